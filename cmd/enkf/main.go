package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/enkf/pkg/config"
	"github.com/cuemby/enkf/pkg/enkf"
	"github.com/cuemby/enkf/pkg/events"
	"github.com/cuemby/enkf/pkg/log"
	"github.com/cuemby/enkf/pkg/metrics"
	"github.com/cuemby/enkf/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, storage.ErrIncompatibleVersion) {
			fmt.Fprintln(os.Stderr, "The case must be upgraded before it can be used with this version.")
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "enkf",
	Short: "enkf - ensemble data assimilation",
	Long: `enkf runs an ensemble of forward models and updates the ensemble
against measured observations with the ensemble Kalman filter or the
ensemble smoother.

All state lives in cases below the configured ensemble path; exactly one
case is current at a time.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"enkf version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "enkf.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().Bool("json-log", false, "Log as JSON")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve metrics and health endpoints on this address; overrides the config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(caseCmd)
	rootCmd.AddCommand(localCmd)
}

func initLogging(cmd *cobra.Command, args []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	jsonLog, _ := cmd.Flags().GetBool("json-log")
	log.Init(log.Config{Level: log.ParseLevel(level), JSONOutput: jsonLog, Output: os.Stderr})
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	// Flags win over the file
	level, _ := cmd.Flags().GetString("log-level")
	jsonLog, _ := cmd.Flags().GetBool("json-log")
	if level == "" {
		level = cfg.Log.Level
	}
	log.Init(log.Config{Level: log.ParseLevel(level), JSONOutput: jsonLog || cfg.Log.JSON, Output: os.Stderr})

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	return cfg, nil
}

// session is a bootstrapped experiment plus the services that live as long
// as one command
type session struct {
	main      *enkf.Main
	broker    *events.Broker
	collector *metrics.Collector
	server    *http.Server
	sub       events.Subscriber
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	metrics.SetVersion(Version)
	metrics.RegisterComponent("config", true, "loaded")

	broker := events.NewBroker()
	broker.Start()

	m, err := enkf.Bootstrap(cfg, enkf.WithEvents(broker))
	if err != nil {
		broker.Stop()
		metrics.UpdateComponent("storage", false, err.Error())
		return nil, err
	}
	metrics.RegisterComponent("storage", true, m.Registry.Case())

	s := &session{main: m, broker: broker}
	s.collector = metrics.NewCollector(m.Ensemble, 15*time.Second)
	s.collector.Start()

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		s.server = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		logger := log.WithComponent("metrics")
		go func() {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving metrics")
	}
	return s, nil
}

// printEvents echoes engine events to stdout until the broker stops
func (s *session) printEvents() {
	s.sub = s.broker.Subscribe(
		events.EventMemberRunFailed,
		events.EventMemberLoadFailed,
		events.EventBatchCompleted,
		events.EventUpdateCompleted,
		events.EventMinistepSkipped,
		events.EventCaseSelected,
	)
	go func(sub events.Subscriber) {
		for ev := range sub {
			switch ev.Type {
			case events.EventMemberRunFailed, events.EventMemberLoadFailed:
				fmt.Printf("✗ %s: member %s: %s\n", ev.Type, ev.Metadata["iens"], ev.Message)
			default:
				fmt.Printf("✓ %s\n", ev.Message)
			}
		}
	}(s.sub)
}

func (s *session) close() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}
	s.collector.Stop()
	if s.sub != nil {
		s.broker.Unsubscribe(s.sub)
	}
	logger := log.WithComponent("enkf")
	s.broker.Stop()
	if n := s.broker.Dropped(); n > 0 {
		logger.Debug().Int64("dropped", n).Msg("Events dropped on full subscribers")
	}
	if err := s.main.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close case")
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
