package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/glimte/recordbus"
	"github.com/glimte/recordbus/bridge"
	"github.com/glimte/recordbus/health"
	"github.com/glimte/recordbus/interceptors"
	"github.com/glimte/recordbus/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		configPath string
		transport  string
		verbose    bool
		cfg        *config.Config
		logger     *slog.Logger
	)

	rootCmd := &cobra.Command{
		Use:   "recordbus",
		Short: "Correlated request/reply over pub/sub",
		Long: `recordbus sends records over a pub/sub transport and matches replies to them
by correlation id. It can serve an echo handler, ping serving instances, and report health.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadOrDefault(configPath)
			if err != nil {
				return err
			}
			if transport != "" {
				loaded.Transport = transport
				if err := loaded.Validate(); err != nil {
					return err
				}
			}
			if verbose {
				loaded.Logging.Level = "debug"
			}
			cfg = loaded
			logger = newLogger(cfg.Logging)
			slog.SetDefault(logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or TOML config file")
	rootCmd.PersistentFlags().StringVarP(&transport, "transport", "t", "", "Transport override (redis, rabbitmq, memory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	// Serve command
	var (
		addr           string
		handlerTimeout time.Duration
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer echo records and expose health and metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			client, err := recordbus.FromConfig(ctx, cfg,
				recordbus.WithLogger(logger),
				recordbus.WithInterceptors(serveInterceptors(logger, handlerTimeout)...))
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			if err := registerEchoPackets(client.Registry()); err != nil {
				return err
			}
			if err := client.BindHandler(EchoRecordType, echoHandler(hostname())); err != nil {
				return err
			}

			router := health.NewRouter(client.Health(), 5*time.Second,
				health.WithMetrics(func() interface{} {
					return client.Metrics().GetMetricsSummary()
				}))
			server := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("Serving health endpoints", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			color.Green("Serving %q records on %s (%s)\n", EchoRecordType, client.Manager().RequestPattern(), client.TransportName())
			return g.Wait()
		},
	}
	serveCmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Health and metrics listen address")
	serveCmd.Flags().DurationVar(&handlerTimeout, "handler-timeout", time.Second, "Maximum time spent answering one record")

	// Ping command
	var (
		count       int
		concurrency int
		message     string
		timeout     time.Duration
		local       bool
	)
	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Send echo records and report round trips",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("count must be positive")
			}
			if concurrency <= 0 {
				concurrency = 1
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, err := recordbus.FromConfig(ctx, cfg, recordbus.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			if err := registerEchoPackets(client.Registry()); err != nil {
				return err
			}
			if local {
				responder, err := startLocalResponder(ctx, client, cfg, logger)
				if err != nil {
					return err
				}
				defer responder.Close()
			}

			results := runPings(ctx, client.Bridge(), count, concurrency, message, timeout)
			printPingResults(results)

			if failed := countFailures(results); failed > 0 {
				return fmt.Errorf("%d of %d records got no reply", failed, count)
			}
			return nil
		},
	}
	pingCmd.Flags().IntVarP(&count, "count", "n", 5, "Number of records to send")
	pingCmd.Flags().IntVarP(&concurrency, "concurrency", "p", 4, "Records in flight at once")
	pingCmd.Flags().StringVarP(&message, "message", "m", "ping", "Echo message")
	pingCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "Per-record timeout")
	pingCmd.Flags().BoolVar(&local, "local", false, "Also answer echo records in this process")

	// Health command
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check transport reachability and the pending table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client, err := recordbus.FromConfig(ctx, cfg, recordbus.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			report := client.Health().Check(ctx)
			printHealth(report)
			if report.Status == health.StatusUnhealthy {
				return fmt.Errorf("unhealthy")
			}
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, pingCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

// startLocalResponder answers echo records on the sender's transport. The
// sender ignores records it published itself, so the handler needs a client
// of its own.
func startLocalResponder(ctx context.Context, sender *recordbus.Client, cfg *config.Config, logger *slog.Logger) (*recordbus.Client, error) {
	responder, err := recordbus.NewClient(ctx, sender.Transport(),
		recordbus.WithLogger(logger),
		recordbus.WithPacketRegistry(sender.Registry()),
		recordbus.WithRecordPrefix(cfg.RecordPrefix),
		recordbus.WithDedupWindow(cfg.DedupWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start local responder: %w", err)
	}
	if err := responder.BindHandler(EchoRecordType, echoHandler("local")); err != nil {
		_ = responder.Close()
		return nil, err
	}
	return responder, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveInterceptors(logger *slog.Logger, handlerTimeout time.Duration) []interceptors.Interceptor {
	return []interceptors.Interceptor{
		interceptors.NewLoggingInterceptor(logger),
		interceptors.NewFilteringInterceptor(
			interceptors.NewPacketTypeFilter(EchoRequestType), interceptors.SkipWithError,
		).WithLogger(logger),
		interceptors.NewTimeoutInterceptor(handlerTimeout),
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type pingResult struct {
	Seq       int
	RoundTrip time.Duration
	Responder string
	Err       error
}

func runPings(ctx context.Context, b *bridge.Bridge, count, concurrency int, message string, timeout time.Duration) []pingResult {
	results := make([]pingResult, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < count; i++ {
		seq := i
		g.Go(func() error {
			start := time.Now()
			reply, err := bridge.CallWithTimeout[*EchoRequest, *EchoReply](gctx, b, EchoRecordType, newEchoRequest(message, seq), timeout)
			result := pingResult{Seq: seq, RoundTrip: time.Since(start), Err: err}
			if err == nil {
				result.Responder = reply.Responder
			}
			results[seq] = result
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func countFailures(results []pingResult) int {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	return failed
}

func printPingResults(results []pingResult) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	var roundTrips []time.Duration
	for _, r := range results {
		if r.Err != nil {
			color.Red("seq=%-4d %v\n", r.Seq, r.Err)
			continue
		}
		roundTrips = append(roundTrips, r.RoundTrip)
		green.Printf("seq=%-4d ", r.Seq)
		fmt.Printf("time=%-12s from=%s\n", r.RoundTrip.Round(time.Microsecond), r.Responder)
	}

	fmt.Println(strings.Repeat("-", 60))
	cyan.Printf("%d sent, %d replied, %d timed out\n",
		len(results), len(roundTrips), len(results)-len(roundTrips))
	if len(roundTrips) == 0 {
		return
	}
	sort.Slice(roundTrips, func(i, j int) bool { return roundTrips[i] < roundTrips[j] })
	fmt.Printf("round trip min/median/max = %s/%s/%s\n",
		roundTrips[0].Round(time.Microsecond),
		roundTrips[len(roundTrips)/2].Round(time.Microsecond),
		roundTrips[len(roundTrips)-1].Round(time.Microsecond))
}

func printHealth(report health.OverallHealth) {
	fmt.Printf("%-20s %-10s %s\n", "Check", "Status", "Message")
	fmt.Println(strings.Repeat("-", 60))
	for _, name := range report.Names() {
		check := report.Checks[name]
		fmt.Printf("%-20s ", name)
		statusColor(check.Status).Printf("%-10s ", check.Status)
		fmt.Println(check.Message)
		if check.Error != "" {
			color.Red("%-20s %s\n", "", check.Error)
		}
	}
	fmt.Println(strings.Repeat("-", 60))
	fmt.Print("Overall: ")
	statusColor(report.Status).Println(report.Status)
}

func statusColor(status health.Status) *color.Color {
	switch status {
	case health.StatusHealthy:
		return color.New(color.FgGreen)
	case health.StatusDegraded:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
