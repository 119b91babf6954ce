// # cmd/al-call-hierarchy/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SShadowS/al-call-hierarchy/internal/al/indexer"
	"github.com/SShadowS/al-call-hierarchy/internal/al/model"
	"github.com/SShadowS/al-call-hierarchy/internal/config"
	"github.com/SShadowS/al-call-hierarchy/internal/lspserver"
)

var (
	configPath  = flag.String("config", "", "Path to config file")
	projectPath = flag.String("project", "", "AL project root (required with --no-lsp; used as a workspace-root hint otherwise)")
	noLSP       = flag.Bool("no-lsp", false, "Run a single indexing pass over --project and show a terminal dashboard instead of starting the LSP server")
	metricsAddr = flag.String("metrics-addr", "", "Address to serve Prometheus metrics on (e.g. :9090); empty disables the endpoint")
	otlpAddr    = flag.String("otlp-endpoint", "", "OTLP/gRPC collector address for request tracing; empty disables tracing")
	verbose     = flag.Bool("verbose", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const versionString = "0.1.0"

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("al-call-hierarchy v%s\n", versionString)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log, *verbose)

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr)
	}

	shutdownTracing := setupTracing(*otlpAddr)
	defer func() { _ = shutdownTracing(context.Background()) }()

	grammarDir := cfg.GrammarsPath
	if grammarDir == "" {
		grammarDir = defaultGrammarDir()
	}

	if *noLSP {
		runDashboard(grammarDir, *projectPath)
		return
	}

	runLSP(grammarDir, cfg, *projectPath)
}

// setupLogging installs the process-wide slog handler: text to stderr by
// default, JSON when the config asks for it. --verbose forces debug level
// over whatever the config says.
func setupLogging(logCfg config.Log, verbose bool) {
	level := slog.LevelInfo
	switch logCfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if logCfg.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("al: metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("al: metrics server failed", "error", err)
	}
}

func defaultGrammarDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Join(cwd, "grammars")
}

func runDashboard(grammarDir, projectPath string) {
	if projectPath == "" {
		fmt.Fprintln(os.Stderr, "--no-lsp requires --project")
		os.Exit(1)
	}

	ix, err := indexer.New(grammarDir)
	if err != nil {
		slog.Error("al: failed to load grammar", "error", err)
		os.Exit(1)
	}

	if err := ix.IndexDirectory(projectPath); err != nil {
		slog.Error("al: index directory failed", "error", err)
		os.Exit(1)
	}
	if _, err := os.Stat(filepath.Join(projectPath, "app.json")); err == nil {
		if _, err := ix.IndexDependencies(projectPath); err != nil {
			slog.Warn("al: index dependencies failed", "error", err)
		}
	}

	m := newDashboardModel(ix.Graph)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runLSP(grammarDir string, cfg *config.Config, projectHint string) {
	lspCfg := lspserver.DefaultConfig()
	if cfg.Watch.Debounce > 0 {
		lspCfg.WatchDebounce = cfg.Watch.Debounce
	}
	lspCfg.InitialRoot = projectHint
	lspCfg.ExcludeDirs = cfg.Exclude.Dirs
	lspCfg.ExcludeFiles = cfg.Exclude.Files
	applyQualityOverrides(&lspCfg.Thresholds, cfg.Quality)

	srv := lspserver.New(grammarDir, lspCfg)
	if err := srv.Run(); err != nil {
		slog.Error("al: server exited with error", "error", err)
		os.Exit(1)
	}
}

// applyQualityOverrides copies every non-zero threshold from the config
// file over the defaults; zero means "not set", never "disable".
func applyQualityOverrides(th *model.Thresholds, q config.Quality) {
	if q.ComplexityWarning > 0 {
		th.ComplexityWarning = q.ComplexityWarning
	}
	if q.ComplexityCritical > 0 {
		th.ComplexityCritical = q.ComplexityCritical
	}
	if q.LengthWarning > 0 {
		th.LengthWarning = q.LengthWarning
	}
	if q.LengthCritical > 0 {
		th.LengthCritical = q.LengthCritical
	}
	if q.ParamsWarning > 0 {
		th.ParamsWarning = q.ParamsWarning
	}
	if q.ParamsCritical > 0 {
		th.ParamsCritical = q.ParamsCritical
	}
	if q.FanInWarning > 0 {
		th.FanInWarning = q.FanInWarning
	}
}
