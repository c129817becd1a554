package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luca-patrignani/ringbench/bench"
	"github.com/luca-patrignani/ringbench/discovery"
	"github.com/luca-patrignani/ringbench/exchange"
	"github.com/luca-patrignani/ringbench/network"
	"github.com/luca-patrignani/ringbench/report"
	"github.com/luca-patrignani/ringbench/transport"
)

const defaultPort = 53550

const envPrefix = "RINGBENCH"

func main() {
	// Create a new slog handler with the default PTerm logger
	handler := pterm.NewSlogHandler(&pterm.DefaultLogger)
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand(logger).ExecuteContext(ctx)
	stop()
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "ringbench",
		Short:         "Benchmark neighbor exchange strategies on a ring of peers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return err
			}
			if verbose {
				pterm.DefaultLogger.Level = pterm.LogLevelDebug
			}
			return nil
		},
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "log every exchange")
	root.AddCommand(newRunCommand(logger), newPeerCommand(logger), newSweepCommand(logger))
	return root
}

// strategyFlags registers the flags of the commands running a single strategy.
func strategyFlags(flags *pflag.FlagSet) {
	flags.String("strategy", exchange.ParityOrderedName, "exchange strategy: "+strings.Join(exchange.Names(), ", "))
	exchangeFlags(flags)
}

// exchangeFlags registers the flags shared by every command running an exchange.
func exchangeFlags(flags *pflag.FlagSet) {
	flags.String("semantics", transport.StoreAndForward.String(), "send semantics of the transport: store-and-forward or rendezvous")
	flags.Int("overlap-units", exchange.DefaultOverlapUnits, "work units run by nonblocking-overlap while the transfers are in flight")
	flags.Int("poll-budget", exchange.DefaultPollBudget, "iterations of nonblocking-polled before it falls back to a blocking wait")
}

// newViper reads the flags of cmd, overridden by RINGBENCH_* environment variables.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return v, nil
}

func parseStrategy(v *viper.Viper, name string) (exchange.Strategy, error) {
	return exchange.Parse(name,
		exchange.WithOverlapUnits(v.GetInt("overlap-units")),
		exchange.WithPollBudget(v.GetInt("poll-budget")),
	)
}

// messageSize parses the optional positional message size.
func messageSize(args []string) (int, error) {
	if len(args) == 0 {
		return bench.DefaultMessageSize, nil
	}
	size, err := strconv.Atoi(args[0])
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("%w: %q is not a positive integer", bench.ErrInvalidMessageSize, args[0])
	}
	return size, nil
}

func newRunCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [messageSize]",
		Short: "Run one exchange round on a group of peers inside this process",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			size, err := messageSize(args)
			if err != nil {
				return err
			}
			strategy, err := parseStrategy(v, v.GetString("strategy"))
			if err != nil {
				return err
			}
			semantics, err := transport.ParseSemantics(v.GetString("semantics"))
			if err != nil {
				return err
			}
			if addr := v.GetString("metrics-addr"); addr != "" {
				srv := serveMetrics(addr, logger)
				defer srv.Close()
			}
			cfg := bench.ClusterConfig{
				Peers:       v.GetInt("peers"),
				MessageSize: size,
				Strategy:    strategy,
				Transport:   v.GetString("transport"),
				Semantics:   semantics,
				Latency:     v.GetDuration("latency"),
				Harness:     bench.NewHarness(bench.WithLogger(logger)),
			}
			if err := printTitle(); err != nil {
				logger.Warn(err.Error())
			}
			spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Exchanging %d elements among %d peers with %s...", size, cfg.Peers, strategy.Name()))
			results, err := bench.RunCluster(cmd.Context(), cfg)
			if err != nil {
				spinner.Fail()
				return err
			}
			spinner.Success()
			return printResults(results)
		},
	}
	flags := cmd.Flags()
	strategyFlags(flags)
	flags.Int("peers", 4, "number of peers in the ring")
	flags.String("transport", bench.TransportMemory, "transport between the peers: memory or http")
	flags.Duration("latency", 0, "delivery delay of every message, memory transport only")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func newPeerCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer [messageSize]",
		Short: "Run one peer of a group spread over several processes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			size, err := messageSize(args)
			if err != nil {
				return err
			}
			strategy, err := parseStrategy(v, v.GetString("strategy"))
			if err != nil {
				return err
			}
			semantics, err := transport.ParseSemantics(v.GetString("semantics"))
			if err != nil {
				return err
			}
			rank := v.GetInt("rank")
			var l net.Listener
			var addresses map[int]string
			if v.GetBool("discover") {
				var d *discovery.Discover
				l, addresses, d, err = discoverGroup(cmd.Context(), v, rank)
				if err == nil {
					// the book stays available to the peers still gathering
					defer d.Close()
				}
			} else {
				l, addresses, err = listGroup(v, rank)
			}
			if err != nil {
				return err
			}
			opts := []network.PeerOption{network.WithTimeout(v.GetDuration("timeout"))}
			if semantics == transport.Rendezvous {
				opts = append(opts, network.WithRendezvous())
			}
			tlsOpts, err := tlsOptions(v.GetString("cert"), v.GetString("key"), v.GetString("ca"))
			if err != nil {
				return errors.Join(err, l.Close())
			}
			opts = append(opts, tlsOpts...)
			pterm.Info.Printfln("Listening on %s, your rank is %d", l.Addr().String(), rank)
			p := network.NewPeer(rank, addresses, l, opts...)

			harness := bench.NewHarness(bench.WithLogger(logger))
			spinner, _ := pterm.DefaultSpinner.Start("Exchanging with the neighbors...")
			result, err := harness.Run(cmd.Context(), p, strategy, size)
			if err != nil {
				spinner.Fail()
				return errors.Join(err, p.Close())
			}
			spinner.Success()
			if err := printResults([]bench.Result{result}); err != nil {
				return errors.Join(err, p.Close())
			}
			return p.Close()
		},
	}
	flags := cmd.Flags()
	strategyFlags(flags)
	flags.Int("rank", 0, "rank of this peer")
	flags.String("addresses", "", "comma separated addresses of the peers, the i-th belongs to rank i")
	flags.String("listen", "", "address to listen on, defaults to the address of this rank")
	flags.Bool("discover", false, "find the other peers on this host instead of reading --addresses")
	flags.Int("peers", 4, "number of peers in the group, with --discover")
	flags.Uint16("discovery-start", 9000, "first port searched by --discover")
	flags.Uint16("discovery-end", 9010, "last port searched by --discover")
	flags.Duration("timeout", 30*time.Second, "how long a send retries a peer that is not listening")
	flags.String("cert", "", "PEM certificate of this peer, enables TLS")
	flags.String("key", "", "PEM private key of this peer")
	flags.String("ca", "", "PEM bundle of the certificates trusted for the other peers")
	return cmd
}

// listGroup reads the address book from --addresses and listens on the
// address of rank unless --listen overrides it.
func listGroup(v *viper.Viper, rank int) (net.Listener, map[int]string, error) {
	base := net.IPv4(127, 0, 0, 1)
	listen := v.GetString("listen")
	if listen != "" {
		host, _, err := splitHostPort(listen, defaultPort)
		if err != nil {
			return nil, nil, err
		}
		if ip := net.ParseIP(host); ip != nil && !ip.IsUnspecified() {
			base = ip
		}
	}
	addresses, err := parseAddresses(v.GetString("addresses"), base, defaultPort)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := addresses[rank]; !ok {
		return nil, nil, fmt.Errorf("rank %d has no address among %d", rank, len(addresses))
	}
	if listen == "" {
		listen = addresses[rank]
	}
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on address %s: %w", listen, err)
	}
	return l, addresses, nil
}

// discoverGroup listens on a free local port and gathers the addresses of
// the other peers of the group running on this host.
func discoverGroup(ctx context.Context, v *viper.Viper, rank int) (net.Listener, map[int]string, *discovery.Discover, error) {
	listen := v.GetString("listen")
	if listen == "" {
		listen = "localhost:0"
	}
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to listen on address %s: %w", listen, err)
	}
	d, err := discovery.New(
		discovery.Entry{Rank: rank, Address: l.Addr().String()},
		discovery.WithPortRange(v.GetUint16("discovery-start"), v.GetUint16("discovery-end")),
	)
	if err != nil {
		return nil, nil, nil, errors.Join(err, l.Close())
	}
	peers := v.GetInt("peers")
	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Looking for %d peers...", peers))
	addresses, err := d.Gather(ctx, peers)
	if err != nil {
		spinner.Fail()
		return nil, nil, nil, errors.Join(err, d.Close(), l.Close())
	}
	spinner.Success()
	return l, addresses, d, nil
}

func tlsOptions(certFile, keyFile, caFile string) ([]network.PeerOption, error) {
	var opts []network.PeerOption
	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, network.WithCertificate(cert))
	}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificate found in %s", caFile)
		}
		opts = append(opts, network.WithLimitedCAs(pool))
	}
	return opts, nil
}

func newSweepCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run every strategy over several group and message sizes and write CSV reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			semantics, err := transport.ParseSemantics(v.GetString("semantics"))
			if err != nil {
				return err
			}
			harness := bench.NewHarness(bench.WithLogger(logger))
			collector := report.NewCollector()
			for _, name := range v.GetStringSlice("strategies") {
				strategy, err := parseStrategy(v, name)
				if err != nil {
					return err
				}
				if semantics == transport.Rendezvous && name == exchange.NaiveBlockingName {
					logger.Warn("skipping a strategy that deadlocks under rendezvous semantics", "strategy", name)
					continue
				}
				for _, peers := range v.GetIntSlice("peer-counts") {
					for _, size := range v.GetIntSlice("sizes") {
						for run := 0; run < v.GetInt("runs"); run++ {
							spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("%s: %d peers, %d elements, run %d", name, peers, size, run))
							results, err := bench.RunCluster(cmd.Context(), bench.ClusterConfig{
								Peers:       peers,
								MessageSize: size,
								Strategy:    strategy,
								Transport:   v.GetString("transport"),
								Semantics:   semantics,
								Harness:     harness,
							})
							if err != nil {
								spinner.Fail()
								return err
							}
							spinner.Success()
							if err := collector.Add(report.Run{Strategy: name, Peers: peers, MessageSize: size, Results: results}); err != nil {
								return err
							}
						}
					}
				}
			}
			if err := printReport(collector); err != nil {
				return err
			}
			if err := writeReports(collector, v.GetString("out")); err != nil {
				return err
			}
			return collector.Verify()
		},
	}
	flags := cmd.Flags()
	exchangeFlags(flags)
	flags.StringSlice("strategies", exchange.Names(), "strategies to benchmark")
	flags.IntSlice("peer-counts", []int{2, 4, 8, 16, 32}, "group sizes to benchmark")
	flags.IntSlice("sizes", []int{bench.DefaultMessageSize}, "message sizes to benchmark")
	flags.Int("runs", 1, "runs of every configuration")
	flags.String("transport", bench.TransportMemory, "transport between the peers: memory or http")
	flags.String("out", ".", "directory receiving the CSV reports")
	return cmd
}

func writeReports(c *report.Collector, dir string) error {
	reports := []struct {
		name  string
		write func(*report.Collector, *os.File) error
	}{
		{"performance_results.csv", func(c *report.Collector, f *os.File) error { return c.WritePerformance(f) }},
		{"scalability_results.csv", func(c *report.Collector, f *os.File) error { return c.WriteScalability(f) }},
		{"efficiency_results.csv", func(c *report.Collector, f *os.File) error { return c.WriteEfficiency(f) }},
	}
	for _, r := range reports {
		path := filepath.Join(dir, r.name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := r.write(c, f); err != nil {
			return errors.Join(err, f.Close())
		}
		if err := f.Close(); err != nil {
			return err
		}
		pterm.Success.Printfln("Results saved to %s", path)
	}
	return nil
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	return srv
}
