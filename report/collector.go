package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/montanaflynn/stats"

	"github.com/luca-patrignani/ringbench/bench"
	"github.com/luca-patrignani/ringbench/payload"
)

const notAvailable = "N/A"

var ErrEmptyRun = errors.New("run without results")

// Run is one execution of a cluster.
type Run struct {
	Strategy    string
	Peers       int
	MessageSize int
	Results     []bench.Result
}

// Row is the aggregate of the runs of one configuration.
type Row struct {
	Strategy    string
	Peers       int
	MessageSize int
	Runs        int
	// AvgTime is the mean over runs of the average peer time, in seconds.
	AvgTime float64
	// MaxTime is the mean over runs of the slowest peer time, in seconds.
	MaxTime float64
}

type key struct {
	strategy string
	peers    int
	size     int
}

type summary struct {
	avg float64
	max float64
}

type Collector struct {
	runs      []Run
	summaries map[key][]summary
	rows      map[key]Row
}

func NewCollector() *Collector {
	return &Collector{
		summaries: make(map[key][]summary),
		rows:      make(map[key]Row),
	}
}

// Add summarizes run and keeps it for Verify.
func (c *Collector) Add(run Run) error {
	if len(run.Results) == 0 {
		return fmt.Errorf("%w: %s with %d peers", ErrEmptyRun, run.Strategy, run.Peers)
	}
	times := make(stats.Float64Data, len(run.Results))
	for i, r := range run.Results {
		times[i] = r.Elapsed.Seconds()
	}
	avg, err := stats.Mean(times)
	if err != nil {
		return err
	}
	slowest, err := stats.Max(times)
	if err != nil {
		return err
	}
	k := key{strategy: run.Strategy, peers: run.Peers, size: run.MessageSize}
	summaries := append(slices.Clone(c.summaries[k]), summary{avg: avg, max: slowest})
	row, err := aggregate(k, summaries)
	if err != nil {
		return err
	}
	c.summaries[k] = summaries
	c.rows[k] = row
	c.runs = append(c.runs, run)
	return nil
}

// aggregate averages the run summaries of one configuration.
func aggregate(k key, runs []summary) (Row, error) {
	avgs := make(stats.Float64Data, len(runs))
	maxs := make(stats.Float64Data, len(runs))
	for i, s := range runs {
		avgs[i] = s.avg
		maxs[i] = s.max
	}
	avg, err := stats.Mean(avgs)
	if err != nil {
		return Row{}, fmt.Errorf("average time of %s with %d peers: %w", k.strategy, k.peers, err)
	}
	slowest, err := stats.Mean(maxs)
	if err != nil {
		return Row{}, fmt.Errorf("maximum time of %s with %d peers: %w", k.strategy, k.peers, err)
	}
	return Row{
		Strategy:    k.strategy,
		Peers:       k.peers,
		MessageSize: k.size,
		Runs:        len(runs),
		AvgTime:     avg,
		MaxTime:     slowest,
	}, nil
}

// Rows returns one Row per configuration ordered by strategy, peers and size.
func (c *Collector) Rows() []Row {
	rows := make([]Row, 0, len(c.rows))
	for _, r := range c.rows {
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b Row) int {
		if a.Strategy != b.Strategy {
			if a.Strategy < b.Strategy {
				return -1
			}
			return 1
		}
		if a.Peers != b.Peers {
			return a.Peers - b.Peers
		}
		return a.MessageSize - b.MessageSize
	})
	return rows
}

// Performance returns the performance table, header first.
func (c *Collector) Performance() [][]string {
	table := [][]string{{"Program", "Processes", "Message Size", "Avg Time (s)", "Max Time (s)"}}
	for _, r := range c.Rows() {
		table = append(table, []string{
			r.Strategy,
			strconv.Itoa(r.Peers),
			strconv.Itoa(r.MessageSize),
			seconds(r.AvgTime),
			seconds(r.MaxTime),
		})
	}
	return table
}

// Scalability returns one row per strategy and message size with the average
// time of every process count, header first.
func (c *Collector) Scalability() [][]string {
	peers := c.peerCounts()
	header := []string{"Program", "Message Size"}
	for _, p := range peers {
		header = append(header, fmt.Sprintf("%d procs", p))
	}
	table := [][]string{header}
	index := c.index()
	for _, g := range c.groups() {
		row := []string{g.strategy, strconv.Itoa(g.size)}
		for _, p := range peers {
			if r, ok := index[key{strategy: g.strategy, peers: p, size: g.size}]; ok {
				row = append(row, seconds(r.AvgTime))
			} else {
				row = append(row, notAvailable)
			}
		}
		table = append(table, row)
	}
	return table
}

// Efficiency returns the speedup over the smallest process count of each
// strategy divided by the process count, header first.
func (c *Collector) Efficiency() [][]string {
	var peers []int
	for _, p := range c.peerCounts() {
		if p > 1 {
			peers = append(peers, p)
		}
	}
	header := []string{"Program", "Message Size"}
	for _, p := range peers {
		header = append(header, fmt.Sprintf("%d procs", p))
	}
	table := [][]string{header}
	index := c.index()
	for _, g := range c.groups() {
		row := []string{g.strategy, strconv.Itoa(g.size)}
		base, hasBase := index[key{strategy: g.strategy, peers: c.smallestPeers(g.strategy), size: g.size}]
		for _, p := range peers {
			r, ok := index[key{strategy: g.strategy, peers: p, size: g.size}]
			if !ok || !hasBase || r.AvgTime == 0 {
				row = append(row, notAvailable)
				continue
			}
			speedup := base.AvgTime / r.AvgTime
			row = append(row, strconv.FormatFloat(speedup/float64(p), 'f', 4, 64))
		}
		table = append(table, row)
	}
	return table
}

func (c *Collector) WritePerformance(w io.Writer) error {
	return writeCSV(w, c.Performance())
}

func (c *Collector) WriteScalability(w io.Writer) error {
	return writeCSV(w, c.Scalability())
}

func (c *Collector) WriteEfficiency(w io.Writer) error {
	return writeCSV(w, c.Efficiency())
}

// Verify checks every result against the checksum its left neighbor predicts
// and checks that repeated runs of a configuration received identical payloads.
func (c *Collector) Verify() error {
	var errs *multierror.Error
	digests := make(map[key]map[int][]byte)
	for _, run := range c.runs {
		k := key{strategy: run.Strategy, peers: run.Peers, size: run.MessageSize}
		if digests[k] == nil {
			digests[k] = make(map[int][]byte)
		}
		for _, r := range run.Results {
			if expected := payload.Expected(r.Left, r.MessageSize); r.Checksum != expected {
				errs = multierror.Append(errs, fmt.Errorf("%s with %d peers: peer %d checksum %v, expected %v", run.Strategy, run.Peers, r.Rank, r.Checksum, expected))
			}
			previous, seen := digests[k][r.Rank]
			if !seen {
				digests[k][r.Rank] = r.Digest
				continue
			}
			if !bytes.Equal(previous, r.Digest) {
				errs = multierror.Append(errs, fmt.Errorf("%s with %d peers: peer %d received a different payload than in a previous run", run.Strategy, run.Peers, r.Rank))
			}
		}
	}
	return errs.ErrorOrNil()
}

type group struct {
	strategy string
	size     int
}

// groups lists the (strategy, message size) pairs in row order.
func (c *Collector) groups() []group {
	var groups []group
	for _, r := range c.Rows() {
		g := group{strategy: r.Strategy, size: r.MessageSize}
		if !slices.Contains(groups, g) {
			groups = append(groups, g)
		}
	}
	slices.SortFunc(groups, func(a, b group) int {
		if a.strategy != b.strategy {
			if a.strategy < b.strategy {
				return -1
			}
			return 1
		}
		return a.size - b.size
	})
	return groups
}

func (c *Collector) peerCounts() []int {
	var peers []int
	for k := range c.summaries {
		if !slices.Contains(peers, k.peers) {
			peers = append(peers, k.peers)
		}
	}
	slices.Sort(peers)
	return peers
}

func (c *Collector) smallestPeers(strategy string) int {
	smallest := -1
	for k := range c.summaries {
		if k.strategy == strategy && (smallest < 0 || k.peers < smallest) {
			smallest = k.peers
		}
	}
	return smallest
}

func (c *Collector) index() map[key]Row {
	index := make(map[key]Row)
	for _, r := range c.Rows() {
		index[key{strategy: r.Strategy, peers: r.Peers, size: r.MessageSize}] = r
	}
	return index
}

func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 6, 64)
}

func writeCSV(w io.Writer, table [][]string) error {
	cw := csv.NewWriter(w)
	return cw.WriteAll(table)
}
