// Package lspserver speaks the Language Server Protocol over stdio,
// wiring textDocument/prepareCallHierarchy, callHierarchy/{incoming,
// outgoing}Calls, textDocument/codeLens, and diagnostics publication to the
// AL indexer and call graph.
package lspserver

import (
	stdcontext "context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/SShadowS/al-call-hierarchy/internal/al/dependencies"
	"github.com/SShadowS/al-call-hierarchy/internal/al/indexer"
	"github.com/SShadowS/al-call-hierarchy/internal/al/model"
	"github.com/SShadowS/al-call-hierarchy/internal/shared/observability"
	"github.com/SShadowS/al-call-hierarchy/internal/shared/util"
	"github.com/SShadowS/al-call-hierarchy/internal/watcher"
)

// state is the server-wide lifecycle, matching the Uninitialized ->
// Indexing -> Ready <-> Updating state machine, guarded by Server.mu.
// Request handlers do not consult it: the initial index is built
// synchronously inside the initialize handler, before its response is
// returned.
type state int

const (
	stateUninitialized state = iota
	stateIndexing
	stateReady
	stateUpdating
)

// Config holds the server's own settings, distinct from the AL project's
// app.json: thresholds, watcher debounce, reindex rate limits, exclude
// patterns. Held here rather than
// as free-standing package globals so a server instance is fully
// self-contained for testing.
type Config struct {
	WatchDebounce time.Duration
	// ReindexRate and ReindexBurst bound how fast watcher-triggered
	// reindex batches are applied, protecting the server from a pathological
	// save-storm (an editor auto-formatter loop, a bulk find/replace) that
	// would otherwise re-walk tree-sitter parses far faster than any client
	// could use the results.
	ReindexRate  float64
	ReindexBurst int
	// InitialRoot is used as a workspace root only when the client's
	// initialize request carries neither workspaceFolders nor rootUri/rootPath
	// — some minimal clients send none of the three.
	InitialRoot string
	// ExcludeDirs and ExcludeFiles are glob patterns matched by the file
	// watcher against base names, or against the full path when a pattern
	// contains a path separator.
	ExcludeDirs  []string
	ExcludeFiles []string
	// Thresholds drive code-lens markers and quality diagnostics.
	Thresholds model.Thresholds
}

func DefaultConfig() Config {
	return Config{
		WatchDebounce: 300 * time.Millisecond,
		ReindexRate:   20,
		ReindexBurst:  40,
		Thresholds:    model.DefaultThresholds(),
	}
}

// Server is the glsp.Handler-backing type: one per process, created once
// at startup and driven entirely by LSP notifications/requests after that.
type Server struct {
	cfg Config

	mu    sync.RWMutex
	state state

	ix         *indexer.Indexer
	roots      []string
	watchers   []*watcher.Watcher
	grammarDir string
	reindexLim *util.Limiter
	requestLim *util.Limiter

	// missingDeps holds, per workspace root, the app.json declarations no
	// package satisfied, published as diagnostics on app.json once the
	// client signals initialized.
	missingDeps map[string][]dependencies.Missing
}

// New creates a Server. grammarDir is the directory containing the AL
// grammar's manifest.toml.
func New(grammarDir string, cfg Config) *Server {
	rate, burst := cfg.ReindexRate, cfg.ReindexBurst
	if rate <= 0 {
		rate = 20
	}
	if burst <= 0 {
		burst = 40
	}
	if cfg.Thresholds == (model.Thresholds{}) {
		cfg.Thresholds = model.DefaultThresholds()
	}
	return &Server{
		cfg:        cfg,
		grammarDir: grammarDir,
		state:      stateUninitialized,
		reindexLim: util.NewLimiter(rate, burst),
		// The request limiter only engages against a pathological client;
		// interactive traffic never approaches 50 requests a second.
		requestLim:  util.NewLimiter(50, 100),
		missingDeps: make(map[string][]dependencies.Missing),
	}
}

func (s *Server) setState(v state) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
}

// Handler builds the glsp protocol.Handler wired to this server's methods.
func (s *Server) Handler() *protocol.Handler {
	h := &protocol.Handler{}
	h.Initialize = s.initialize
	h.Initialized = s.initialized
	h.Shutdown = s.shutdown
	h.Exit = s.exit
	h.TextDocumentDidOpen = s.didOpen
	h.TextDocumentDidChange = s.didChange
	h.TextDocumentDidSave = s.didSave
	h.TextDocumentDidClose = s.didClose
	h.TextDocumentPrepareCallHierarchy = s.prepareCallHierarchy
	h.CallHierarchyIncomingCalls = s.incomingCalls
	h.CallHierarchyOutgoingCalls = s.outgoingCalls
	h.TextDocumentCodeLens = s.codeLens
	return h
}

// Run starts the stdio JSON-RPC loop. It blocks until the client sends
// exit or stdin closes.
func (s *Server) Run() error {
	handler := s.Handler()
	srv := glspserver.NewServer(handler, "al-call-hierarchy", false)
	return srv.RunStdio()
}

func (s *Server) initialize(context *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.setState(stateIndexing)

	var roots []string
	if len(params.WorkspaceFolders) > 0 {
		for _, f := range params.WorkspaceFolders {
			if p, err := uriToPath(f.URI); err == nil {
				roots = append(roots, p)
			}
		}
	} else if params.RootURI != nil {
		if p, err := uriToPath(*params.RootURI); err == nil {
			roots = append(roots, p)
		}
	} else if params.RootPath != nil {
		roots = append(roots, *params.RootPath)
	}
	if len(roots) == 0 && s.cfg.InitialRoot != "" {
		roots = append(roots, s.cfg.InitialRoot)
	}
	s.roots = roots

	ix, err := indexer.New(s.grammarDir)
	if err != nil {
		slog.Error("al: failed to load grammar", "error", err)
		return nil, err
	}
	s.ix = ix

	// run correlates every log line of one initial-index pass.
	run := uuid.NewString()
	for _, root := range roots {
		start := time.Now()
		slog.Info("al: indexing workspace", "run", run, "root", root)
		if err := ix.IndexDirectory(root); err != nil {
			slog.Warn("al: index directory failed", "run", run, "root", root, "error", err)
		}
		observability.IndexDuration.WithLabelValues("workspace").Observe(time.Since(start).Seconds())

		if _, err := os.Stat(filepath.Join(root, "app.json")); err == nil {
			depStart := time.Now()
			missing, err := ix.IndexDependencies(root)
			if err != nil {
				slog.Warn("al: index dependencies failed", "root", root, "error", err)
			}
			if len(missing) > 0 {
				s.missingDeps[root] = missing
			}
			observability.IndexDuration.WithLabelValues("dependencies").Observe(time.Since(depStart).Seconds())
		}
	}
	observability.GraphDefinitions.Set(float64(ix.Graph.DefinitionCount()))

	capabilities := protocol.ServerCapabilities{
		CallHierarchyProvider: true,
		CodeLensProvider:      &protocol.CodeLensOptions{},
		TextDocumentSync: protocol.TextDocumentSyncOptions{
			OpenClose: boolPtr(true),
			Save:      &protocol.SaveOptions{IncludeText: boolPtr(false)},
		},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
	}, nil
}

func boolPtr(b bool) *bool { return &b }

func (s *Server) initialized(context *glsp.Context, params *protocol.InitializedParams) error {
	s.setState(stateReady)
	for _, path := range s.ix.Graph.Files() {
		s.publishDiagnosticsForFile(context, path)
	}
	for root, missing := range s.missingDeps {
		s.publishMissingDependencies(context, root, missing)
	}
	s.startWatchers(context)
	return nil
}

func (s *Server) startWatchers(context *glsp.Context) {
	for _, root := range s.roots {
		root := root
		w, err := watcher.NewWatcher(s.cfg.WatchDebounce, ".al", s.cfg.ExcludeDirs, s.cfg.ExcludeFiles, func(paths []string) {
			s.onFilesChanged(context, paths)
		})
		if err != nil {
			slog.Warn("al: failed to start watcher", "root", root, "error", err)
			continue
		}
		if err := w.Watch([]string{root}); err != nil {
			slog.Warn("al: failed to watch root", "root", root, "error", err)
			continue
		}
		s.watchers = append(s.watchers, w)
	}
}

func (s *Server) onFilesChanged(context *glsp.Context, paths []string) {
	observability.WatcherEventsTotal.Inc()
	_, span := observability.Tracer.Start(stdcontext.Background(), "lspserver.onFilesChanged")
	defer span.End()
	s.setState(stateUpdating)
	defer s.setState(stateReady)

	// batch correlates the log lines of one debounced change set.
	batch := uuid.NewString()
	for _, path := range paths {
		if !s.reindexLim.Allow(1) {
			observability.LSPRequestsThrottledTotal.Inc()
			if err := s.reindexLim.Wait(stdcontext.Background(), 1); err != nil {
				slog.Warn("al: reindex wait aborted", "batch", batch, "path", path, "error", err)
				continue
			}
		}
		if err := s.ix.ReindexFile(path); err != nil {
			observability.ReindexTotal.WithLabelValues("error").Inc()
			slog.Warn("al: reindex failed", "batch", batch, "path", path, "error", err)
			continue
		}
		observability.ReindexTotal.WithLabelValues("ok").Inc()
		s.publishDiagnosticsForFile(context, path)
	}
}

func (s *Server) shutdown(context *glsp.Context) error {
	for _, w := range s.watchers {
		_ = w.Close()
	}
	return nil
}

func (s *Server) exit(context *glsp.Context) error {
	return nil
}

func (s *Server) didOpen(context *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	return nil
}

// didChange is accepted but ignored: the index is rebuilt from disk on
// save, not from in-flight editor buffers.
func (s *Server) didChange(context *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	return nil
}

func (s *Server) didSave(context *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	path, err := uriToPath(string(params.TextDocument.URI))
	if err != nil {
		return nil
	}
	s.onFilesChanged(context, []string{path})
	return nil
}

func (s *Server) didClose(context *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	return nil
}
