package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/headwaterworks/basin-simulator/core"
	"github.com/headwaterworks/basin-simulator/internal/logging"
	"github.com/headwaterworks/basin-simulator/internal/observability"
	"github.com/headwaterworks/basin-simulator/results"
	"gopkg.in/yaml.v3"
)

// runConfig mirrors the optional YAML run configuration. Explicitly set
// command-line flags always win over file values.
type runConfig struct {
	Model       string `yaml:"model"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	Quiet       bool   `yaml:"quiet"`
}

func main() {
	modelPath := flag.String("model", "configs/simple1.json", "Path to a JSON model document")
	configPath := flag.String("config", "", "Optional YAML run configuration file")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (defaults to LOG_LEVEL)")
	logFormat := flag.String("log-format", "", "Log format: text or json (defaults to LOG_FORMAT)")
	quiet := flag.Bool("quiet", false, "Suppress per-step flow output")
	flag.Parse()

	if *configPath != "" {
		cfg, err := loadRunConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load run config %q: %v\n", *configPath, err)
			os.Exit(2)
		}
		applyConfig(cfg, modelPath, metricsAddr, logLevel, logFormat, quiet)
	}

	log := newLogger(*logLevel, *logFormat)
	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}

	collector, err := observability.NewEngineCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		os.Exit(1)
	}

	var metricsSrv *http.Server
	if *metricsAddr != "" {
		metricsSrv = serveMetrics(*metricsAddr, collector, log)
	}

	loaded, err := loadModelFile(*modelPath)
	if err != nil {
		log.Error(ctx, "failed to load model document", logging.String("path", *modelPath), logging.Err(err))
		os.Exit(1)
	}
	log.Info(ctx, "loaded model",
		logging.String("title", loaded.Title),
		logging.Int("nodes", loaded.Network.Len()),
		logging.Int("steps", loaded.Horizon.Count()),
	)

	store := results.NewStore()
	engine := core.NewSimulationEngine(loaded.Network, loaded.Horizon,
		core.WithLogger(log),
		core.WithMetricsRecorder(collector),
		core.WithResultsStore(store),
	)

	if !*quiet {
		unsubscribe := store.Subscribe(func(ev results.Event) {
			if ev.Type == results.EventStepAppended {
				printStep(ev.Step)
			}
		})
		defer unsubscribe()
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	report, runErr := engine.Run(runCtx)
	stop()

	exitCode := 0
	switch {
	case runErr == nil:
		printSummary(report)
	case errors.Is(runErr, context.Canceled):
		log.Warn(ctx, "run interrupted; keeping partial results",
			logging.Int("completed", report.StepsCompleted),
		)
		exitCode = 1
	default:
		var stepErr *core.StepError
		if errors.As(runErr, &stepErr) {
			log.Error(ctx, "simulation halted",
				logging.Int("step", stepErr.Index),
				logging.String("date", stepErr.Date.Format("2006-01-02")),
				logging.Err(stepErr.Err),
			)
		} else {
			log.Error(ctx, "simulation failed", logging.Err(runErr))
		}
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func loadRunConfig(path string) (*runConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg runConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyConfig fills in config-file values for flags the user left at their
// defaults.
func applyConfig(cfg *runConfig, modelPath, metricsAddr, logLevel, logFormat *string, quiet *bool) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["model"] && cfg.Model != "" {
		*modelPath = cfg.Model
	}
	if !set["metrics-addr"] && cfg.MetricsAddr != "" {
		*metricsAddr = cfg.MetricsAddr
	}
	if !set["log-level"] && cfg.LogLevel != "" {
		*logLevel = cfg.LogLevel
	}
	if !set["log-format"] && cfg.LogFormat != "" {
		*logFormat = cfg.LogFormat
	}
	if !set["quiet"] && cfg.Quiet {
		*quiet = true
	}
}

func newLogger(level, format string) logging.Logger {
	if level == "" && format == "" {
		return logging.NewFromEnv()
	}
	return logging.New(logging.Config{Level: level, Format: format})
}

func loadModelFile(path string) (*core.LoadedModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return core.LoadModel(f)
}

func serveMetrics(addr string, collector *observability.EngineCollector, log logging.Logger) *http.Server {
	if collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func printStep(rec results.StepRecord) {
	fmt.Printf("[%s] step %d objective %.3f\n",
		rec.Date.Format("2006-01-02"), rec.Index, rec.Objective)
	for _, ef := range rec.EdgeFlows {
		fmt.Printf("↳ edge %-20s → %-20s flow %8.3f\n", ef.From, ef.To, ef.Flow)
	}
	for _, name := range sortedKeys(rec.Volumes) {
		fmt.Printf("↳ storage %-17s volume %8.3f\n", name, rec.Volumes[name])
	}
}

func printSummary(report *core.RunReport) {
	fmt.Printf("Run %s complete: %d steps, total objective %.3f, elapsed %s\n",
		report.RunID, report.StepsCompleted, report.TotalObjective,
		report.Elapsed.Round(time.Millisecond))
	for _, name := range sortedKeys(report.FinalVolumes) {
		fmt.Printf("Final volume %-17s %8.3f\n", name, report.FinalVolumes[name])
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
