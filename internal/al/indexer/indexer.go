// Package indexer drives the end-to-end pipeline: walking a workspace,
// parsing files in parallel, merging results into the call graph, loading
// declared dependencies, and re-indexing a single file on change.
package indexer

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/SShadowS/al-call-hierarchy/internal/al/apppackage"
	"github.com/SShadowS/al-call-hierarchy/internal/al/dependencies"
	"github.com/SShadowS/al-call-hierarchy/internal/al/extractor"
	"github.com/SShadowS/al-call-hierarchy/internal/al/graph"
	"github.com/SShadowS/al-call-hierarchy/internal/al/model"
	"github.com/SShadowS/al-call-hierarchy/internal/shared/observability"
)

// Indexer owns the call graph and the AL grammar language used to build
// per-worker parsers.
type Indexer struct {
	Graph    *graph.CallGraph
	language *sitter.Language
}

// New creates an Indexer backed by a fresh graph, loading the AL grammar
// from grammarBaseDir (the directory containing manifest.toml).
func New(grammarBaseDir string) (*Indexer, error) {
	lang, err := extractor.LoadLanguage(grammarBaseDir)
	if err != nil {
		return nil, err
	}
	return &Indexer{Graph: graph.New(), language: lang}, nil
}

type parseJob struct {
	path string
}

type parseOutcome struct {
	path   string
	result *extractor.Result
	err    error
}

// IndexDirectory walks root for .al files and indexes every one found. A
// per-file parse failure is logged and skipped; it never aborts the rest
// of the walk.
func (ix *Indexer) IndexDirectory(root string) error {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".al") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return err
	}

	outcomes := ix.parseParallel(paths)
	for _, o := range outcomes {
		if o.err != nil {
			slog.Warn("al: parse failed", "path", o.path, "error", o.err)
			continue
		}
		ix.addToGraph(o.path, o.result)
	}
	observability.GraphCallSites.Set(float64(ix.Graph.CallSiteCount()))
	observability.GraphUnresolvedCallSites.Set(float64(ix.Graph.UnresolvedCallSiteCount()))
	return nil
}

// parseParallel runs one parser per worker (runtime.NumCPU, the logical
// CPU count, not the physical core count), each
// goroutine owning its own *extractor.Parser since tree-sitter parsers
// are not safe to share across goroutines.
func (ix *Indexer) parseParallel(paths []string) []parseOutcome {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > len(paths) {
		workers = len(paths)
	}
	if workers == 0 {
		return nil
	}

	jobs := make(chan parseJob, len(paths))
	results := make(chan parseOutcome, len(paths))
	for _, p := range paths {
		jobs <- parseJob{path: p}
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			parser, err := extractor.NewParser(ix.language)
			if err != nil {
				for job := range jobs {
					results <- parseOutcome{path: job.path, err: err}
				}
				return
			}
			defer parser.Close()

			for job := range jobs {
				src, err := os.ReadFile(job.path)
				if err != nil {
					results <- parseOutcome{path: job.path, err: err}
					continue
				}
				start := time.Now()
				res, err := parser.Parse(src)
				outcome := "ok"
				if err != nil {
					outcome = "error"
				}
				observability.ParsingDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
				results <- parseOutcome{path: job.path, result: res, err: err}
			}
		}()
	}
	wg.Wait()
	close(results)

	out := make([]parseOutcome, 0, len(paths))
	for o := range results {
		out = append(out, o)
	}
	return out
}

// ReindexFile re-parses path and replaces its entry in the graph. If path
// no longer exists, its entries are removed by a ReplaceFile call with an
// empty parse and nil is returned — deletions are handled gracefully, not
// as an error.
func (ix *Indexer) ReindexFile(path string) error {
	src, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		ix.Graph.ReplaceFile(graph.FileParse{Path: path})
		return nil
	}
	if err != nil {
		return err
	}

	parser, err := extractor.NewParser(ix.language)
	if err != nil {
		return err
	}
	defer parser.Close()

	res, err := parser.Parse(src)
	if err != nil {
		slog.Warn("al: reindex parse failed", "path", path, "error", err)
		return nil
	}
	ix.addToGraph(path, res)
	observability.GraphDefinitions.Set(float64(ix.Graph.DefinitionCount()))
	observability.GraphCallSites.Set(float64(ix.Graph.CallSiteCount()))
	observability.GraphUnresolvedCallSites.Set(float64(ix.Graph.UnresolvedCallSiteCount()))
	return nil
}

// addToGraph converts one file's extraction result into graph types and
// merges it in. A file with no recognizable object header is skipped: the
// graph has no use for definitions without an enclosing object identity.
func (ix *Indexer) addToGraph(path string, res *extractor.Result) {
	if res.ObjectName == "" || res.ObjectType == "" {
		slog.Debug("al: skipping file with no object declaration", "path", path)
		return
	}

	objType, ok := model.ParseObjectType(res.ObjectType)
	if !ok {
		slog.Debug("al: unrecognized object type", "path", path, "type", res.ObjectType)
		return
	}
	objectSym := ix.Graph.Interner.Intern(res.ObjectName)
	ix.Graph.RegisterObject(objectSym, objType)

	fp := graph.FileParse{
		Path:            path,
		GlobalVariables: make(map[model.Symbol][]model.Variable),
		LocalVariables:  make(map[model.QualifiedName][]model.Variable),
	}

	for _, pd := range res.Definitions {
		nameSym := ix.Graph.Interner.Intern(pd.Name)
		def := model.Definition{
			File:       &path,
			Range:      pd.Range,
			ObjectType: objType,
			ObjectName: objectSym,
			Name:       nameSym,
			Kind:       pd.Kind,
			Metrics: model.Metrics{
				LineCount:            uint32(pd.LineCount),
				ParamCount:           uint16(pd.ParamCount),
				CyclomaticComplexity: uint16(pd.Complexity),
			},
		}
		score := model.QualityScore(pd.Complexity, pd.LineCount, pd.ParamCount)
		def.Metrics.QualityScore = &score

		if pd.EventBinding != nil {
			pubType, ok := model.ParseObjectType(pd.EventBinding.PublisherObjectType)
			if ok {
				def.EventBinding = &model.EventBinding{
					PublisherObjectType: pubType,
					PublisherObject:     ix.Graph.Interner.Intern(pd.EventBinding.PublisherObject),
					EventName:           ix.Graph.Interner.Intern(pd.EventBinding.EventName),
				}
			}
		}

		fp.Definitions = append(fp.Definitions, def)
	}

	for _, pv := range res.Variables {
		// Only object/record-typed variables with a known target
		// participate in call resolution; primitive-typed variables are
		// parsed but never retained.
		t, ok := model.ParseObjectType(pv.DeclaredType)
		if !ok || pv.Target == "" {
			continue
		}
		v := model.Variable{
			Name:         ix.Graph.Interner.Intern(pv.Name),
			DeclaredType: t,
			Target:       ix.Graph.Interner.Intern(pv.Target),
		}
		if pv.ContainingProcedure == "" {
			v.Scope = model.Scope{Kind: model.ScopeGlobal, Owner: objectSym}
			fp.GlobalVariables[objectSym] = append(fp.GlobalVariables[objectSym], v)
		} else {
			procSym := ix.Graph.Interner.Intern(pv.ContainingProcedure)
			qn := model.QualifiedName{Object: objectSym, Procedure: procSym}
			v.Scope = model.Scope{Kind: model.ScopeLocal, Owner: procSym}
			fp.LocalVariables[qn] = append(fp.LocalVariables[qn], v)
		}
	}

	for _, pc := range res.Calls {
		callerProc := pc.ContainingProcedure
		if callerProc == "" {
			// A call at object/trigger top level outside any named
			// procedure attributes to the object itself.
			callerProc = res.ObjectName
		}
		caller := model.QualifiedName{
			Object:    objectSym,
			Procedure: ix.Graph.Interner.Intern(callerProc),
		}

		var receiver model.Receiver
		switch {
		case pc.Object == "":
			receiver = model.Receiver{Kind: model.ReceiverImplicit}
		case strings.Contains(pc.Object, "::"):
			// Explicit type-literal syntax (Codeunit::"Name") names an
			// object directly; everything else is "Ident.Method" and is
			// classified VariableRef until the resolver checks whether
			// Ident is actually a known object name.
			name := pc.Object[strings.LastIndex(pc.Object, "::")+2:]
			receiver = model.Receiver{Kind: model.ReceiverObjectLiteral, Name: ix.Graph.Interner.Intern(strings.Trim(strings.TrimSpace(name), `"'`))}
		default:
			receiver = model.Receiver{Kind: model.ReceiverVariableRef, Name: ix.Graph.Interner.Intern(pc.Object)}
		}

		fp.CallSites = append(fp.CallSites, model.CallSite{
			File:     path,
			Range:    pc.Range,
			Caller:   caller,
			Receiver: receiver,
			Callee:   ix.Graph.Interner.Intern(pc.Method),
		})
	}

	ix.Graph.ReplaceFile(fp)
}

// IndexDependencies resolves projectRoot's declared app.json dependencies
// and adds every external object/procedure they expose to the graph. A
// dependency that fails to resolve or load is logged and skipped; it never
// aborts the rest. The unresolved declarations are returned so the caller
// can attach diagnostics to app.json.
func (ix *Indexer) IndexDependencies(projectRoot string) ([]dependencies.Missing, error) {
	resolved, missing, err := dependencies.ResolveAll(projectRoot)
	if err != nil {
		return nil, err
	}
	for _, m := range missing {
		observability.DependenciesMissingTotal.Inc()
		slog.Warn("al: dependency unresolved", "name", m.Declaration.Name, "reason", m.Reason)
	}
	for _, r := range resolved {
		if err := ix.addAppToGraph(r.Path); err != nil {
			slog.Warn("al: failed to load dependency package", "path", r.Path, "error", err)
			continue
		}
		observability.DependenciesResolvedTotal.Inc()
	}
	return missing, nil
}

func (ix *Indexer) addAppToGraph(path string) error {
	pkg, err := apppackage.Load(path)
	if err != nil {
		return err
	}
	appNameSym := ix.Graph.Interner.Intern(pkg.AppName)

	var defs []model.Definition
	for _, group := range pkg.Symbols.Groups() {
		objType, ok := model.ParseObjectType(group.ObjectType)
		if !ok {
			continue
		}
		for _, obj := range group.Objects {
			objSym := ix.Graph.Interner.Intern(obj.Name)
			ix.Graph.RegisterObject(objSym, objType)
			for _, method := range obj.Methods {
				defs = append(defs, model.Definition{
					File:       nil,
					ObjectType: objType,
					ObjectName: objSym,
					Name:       ix.Graph.Interner.Intern(method.Name),
					Kind:       model.DefinitionKindExternalProcedure,
					SourceApp:  &appNameSym,
				})
			}
		}
	}
	ix.Graph.InsertExternals(defs)
	slog.Info("al: loaded dependency", "app", pkg.AppName, "version", pkg.AppVersion, "definitions", len(defs))
	return nil
}
