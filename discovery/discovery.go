package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

var (
	ErrRankConflict   = errors.New("two peers announced the same rank")
	ErrRankOutOfRange = errors.New("rank out of the group")
)

// Entry is the announcement of one peer of the group.
type Entry struct {
	Rank    int    `json:"rank"`
	Address string `json:"address"`
}

type Discover struct {
	entry     Entry
	port      uint16
	startPort uint16
	endPort   uint16
	host      string
	interval  time.Duration
	server    *http.Server
	client    *http.Client
	book      *addressBook
}

type addressBook struct {
	mu      sync.Mutex
	entries map[int]string
}

// New binds the first free port of the range and starts serving entry.
func New(entry Entry, opts ...option) (*Discover, error) {
	d := Discover{
		entry:     entry,
		startPort: 9000,
		endPort:   9010,
		host:      "localhost",
		interval:  100 * time.Millisecond,
		client:    &http.Client{Timeout: time.Second},
	}
	for _, opt := range opts {
		d = opt(d)
	}
	d.book = &addressBook{entries: map[int]string{entry.Rank: entry.Address}}

	var l net.Listener
	var err error
	for port := d.startPort; port <= d.endPort && port >= d.startPort; port++ {
		l, err = net.Listen("tcp", net.JoinHostPort(d.host, strconv.Itoa(int(port))))
		if err == nil {
			d.port = port
			break
		}
	}
	if l == nil {
		if err == nil {
			err = fmt.Errorf("empty port range %d-%d", d.startPort, d.endPort)
		}
		return nil, err
	}
	p := &d
	p.server = &http.Server{Handler: http.HandlerFunc(p.serveBook)}
	go func() {
		if err := p.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(err)
		}
	}()
	return p, nil
}

// Port returns the port the Discover is serving on.
func (d *Discover) Port() uint16 {
	return d.port
}

// Gather searches the port range until the book holds an address for every
// rank in [0, size) and returns it.
func (d *Discover) Gather(ctx context.Context, size int) (map[int]string, error) {
	if d.entry.Rank < 0 || d.entry.Rank >= size {
		return nil, fmt.Errorf("%w: rank %d, size %d", ErrRankOutOfRange, d.entry.Rank, size)
	}
	for {
		if err := d.search(ctx, size); err != nil {
			return nil, err
		}
		if book := d.snapshot(); len(book) == size {
			return book, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("found %d of %d peers: %w", len(d.snapshot()), size, ctx.Err())
		case <-time.After(d.interval):
		}
	}
}

func (d *Discover) Close() error {
	return d.server.Shutdown(context.Background())
}

func (d *Discover) search(ctx context.Context, size int) error {
	for port := d.startPort; port <= d.endPort && port >= d.startPort; port++ {
		if port == d.port {
			continue
		}
		book, err := d.fetch(ctx, port)
		if err != nil {
			continue
		}
		if err := d.merge(book, size); err != nil {
			return err
		}
	}
	return nil
}

func (d *Discover) fetch(ctx context.Context, port uint16) (map[int]string, error) {
	url := fmt.Sprintf("http://%s", net.JoinHostPort(d.host, strconv.Itoa(int(port))))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}
	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	book := make(map[int]string, len(entries))
	for _, e := range entries {
		book[e.Rank] = e.Address
	}
	return book, nil
}

// merge adds the entries of book belonging to a group of the given size.
// Entries of other groups sharing the port range are ignored.
func (d *Discover) merge(book map[int]string, size int) error {
	d.book.mu.Lock()
	defer d.book.mu.Unlock()
	for rank, addr := range book {
		if rank < 0 || rank >= size {
			continue
		}
		known, ok := d.book.entries[rank]
		if ok && known != addr {
			return fmt.Errorf("%w: rank %d at %s and %s", ErrRankConflict, rank, known, addr)
		}
		d.book.entries[rank] = addr
	}
	return nil
}

func (d *Discover) snapshot() map[int]string {
	d.book.mu.Lock()
	defer d.book.mu.Unlock()
	return maps.Clone(d.book.entries)
}

func (d *Discover) serveBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	book := d.snapshot()
	entries := make([]Entry, 0, len(book))
	for rank, addr := range book {
		entries = append(entries, Entry{Rank: rank, Address: addr})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		panic(err)
	}
}
