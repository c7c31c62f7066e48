package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bwprobe/internal/banner"
	"bwprobe/internal/cli"
	"bwprobe/internal/dummy"
	"bwprobe/internal/metrics"
	"bwprobe/internal/runner"
	"bwprobe/internal/tui/app"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bwprobe",
	Short: "bwprobe - multi-worker download throughput tester",
	Long: `
bwprobe downloads from one or more HTTP(S) URLs with parallel workers,
optionally capped by a shared rate limit, and reports throughput.

It supports two modes:
1. CLI Mode (Default): one line per sample and a summary table per cycle
2. TUI Mode (--tui): live dashboard`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromViper(viper.GetViper())
		if len(cfg.URLs) == 0 {
			fmt.Println(banner.GetString())
			return cmd.Usage()
		}

		tui := viper.GetBool("tui")
		log, err := newLogger(viper.GetString("log-level"), tui)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := []runner.Option{runner.WithLogger(log)}
		if addr := viper.GetString("metrics-addr"); addr != "" {
			exp := metrics.NewExporter()
			opts = append(opts, runner.WithReporter(exp))
			go func() {
				if err := exp.Serve(ctx, addr, log); err != nil {
					log.WithError(err).Error("metrics server failed")
				}
			}()
		}

		if tui {
			sums, err := app.Start(ctx, cfg, opts...)
			if len(sums) > 0 {
				cli.NewPrinter(os.Stdout).PrintOverall(sums)
			}
			return err
		}
		return cli.Start(ctx, cfg, opts...)
	},
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Println("❌", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(serveCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bwprobe.yaml)")

	d := runner.DefaultConfig()
	f := rootCmd.Flags()
	f.StringSliceP("url", "u", nil, "URL to download from (repeatable or comma separated)")
	f.IntP("threads", "t", d.Concurrency, "Number of download workers")
	f.IntP("duration", "d", 0, "Cycle duration in seconds (0 runs until interrupted)")
	f.IntP("interval", "i", 0, "Pause between cycles in seconds")
	f.IntP("cycles", "c", d.Cycles, "Number of cycles (0 repeats until interrupted)")
	f.Float64P("limit", "l", 0, "Rate limit in Mbps (0 = unlimited)")
	f.Float64("burst", d.Burst, "Limiter capacity in seconds of rate")
	f.Int("chunk-size", d.ChunkSize, "Read size in bytes")
	f.Int64("rotate-after", d.RotateAfter>>20, "MiB to download from a URL before switching")
	f.String("pick", string(d.Pick), "URL selection: random or sequential")
	f.Int("timeout", int(d.Timeout/time.Second), "Connect and idle-read timeout in seconds")
	f.Int("retries", d.Retry.MaxRetries, "Retries per request before giving up")
	f.Duration("backoff", d.Retry.BaseDelay, "Base retry delay, doubled on every retry")
	f.Duration("join-timeout", d.JoinTimeout, "How long to wait for workers when a cycle ends")
	f.Duration("sample-interval", d.SampleInterval, "Throughput sampling interval")
	f.Bool("insecure", false, "Skip TLS certificate verification")
	f.Bool("tui", false, "Show the live dashboard")
	f.String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	f.String("log-level", "warn", "Log level: debug, info, warn, error")

	viper.BindPFlags(f)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".bwprobe")
		}
	}
	viper.SetEnvPrefix("BWPROBE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

// configFromViper maps flags, environment and config file values onto a
// runner config. Validation happens in runner.NewRunner.
func configFromViper(v *viper.Viper) runner.Config {
	cfg := runner.DefaultConfig()

	cfg.URLs = v.GetStringSlice("url")
	cfg.Concurrency = v.GetInt("threads")
	cfg.Duration = time.Duration(v.GetInt("duration")) * time.Second
	cfg.Interval = time.Duration(v.GetInt("interval")) * time.Second
	cfg.Cycles = v.GetInt("cycles")
	cfg.LimitMbps = v.GetFloat64("limit")
	cfg.Burst = v.GetFloat64("burst")
	cfg.ChunkSize = v.GetInt("chunk-size")
	cfg.RotateAfter = v.GetInt64("rotate-after") << 20
	cfg.Pick = runner.PickMode(strings.ToLower(v.GetString("pick")))
	cfg.Timeout = time.Duration(v.GetInt("timeout")) * time.Second
	cfg.Insecure = v.GetBool("insecure")
	cfg.Retry.MaxRetries = v.GetInt("retries")
	cfg.Retry.BaseDelay = v.GetDuration("backoff")
	cfg.JoinTimeout = v.GetDuration("join-timeout")
	cfg.SampleInterval = v.GetDuration("sample-interval")

	return cfg
}

// newLogger builds the diagnostics logger. The dashboard owns the terminal,
// so logs are dropped in TUI mode.
func newLogger(level string, tui bool) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", runner.ErrInvalidConfig, err)
	}

	log := logrus.New()
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if tui {
		log.SetOutput(io.Discard)
	}
	return log, nil
}

// --- Serve Subcommand ---
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local test server",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		srv := dummy.Start(dummy.ServerConfig{Port: port})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		return srv.Close()
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to run the test server on")
}
