package lspserver

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/SShadowS/al-call-hierarchy/internal/al/dependencies"
	"github.com/SShadowS/al-call-hierarchy/internal/al/model"
	"github.com/SShadowS/al-call-hierarchy/internal/shared/observability"
)

// throttle applies the request-path rate limit before a handler does any
// graph work. Servers constructed directly in tests have no limiter and
// pass through.
func (s *Server) throttle() {
	if s.requestLim == nil {
		return
	}
	if s.requestLim.Allow(1) {
		return
	}
	observability.LSPRequestsThrottledTotal.Inc()
	_ = s.requestLim.Wait(context.Background(), 1)
}

// itemData is what a CallHierarchyItem's Data field carries between
// prepare and incoming/outgoing requests: enough to reconstruct the
// QualifiedName without re-resolving a file position.
type itemData struct {
	Object    string `json:"object"`
	Procedure string `json:"procedure"`
}

func definitionKindToSymbolKind(k model.DefinitionKind) protocol.SymbolKind {
	switch k {
	case model.DefinitionKindTrigger, model.DefinitionKindEventSubscriber:
		return protocol.SymbolKindEvent
	default:
		return protocol.SymbolKindFunction
	}
}

func (s *Server) qualifiedNameOf(data any) (model.QualifiedName, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return model.QualifiedName{}, false
	}
	objectName, _ := m["object"].(string)
	procName, _ := m["procedure"].(string)
	if objectName == "" || procName == "" {
		return model.QualifiedName{}, false
	}
	objSym, ok1 := s.ix.Graph.Interner.Lookup(objectName)
	procSym, ok2 := s.ix.Graph.Interner.Lookup(procName)
	if !ok1 || !ok2 {
		return model.QualifiedName{}, false
	}
	return model.QualifiedName{Object: objSym, Procedure: procSym}, true
}

func (s *Server) itemFor(qn model.QualifiedName, def model.Definition) protocol.CallHierarchyItem {
	objectName, _ := s.ix.Graph.Interner.Resolve(qn.Object)
	procName, _ := s.ix.Graph.Interner.Resolve(qn.Procedure)

	var uri protocol.DocumentUri
	var r protocol.Range
	if def.File != nil {
		uri = protocol.DocumentUri(pathToURI(*def.File))
		r = toLSPRange(def.Range)
	}

	detail := fmt.Sprintf("%s.%s", objectName, procName)
	if def.Kind == model.DefinitionKindExternalProcedure && def.SourceApp != nil {
		if appName, ok := s.ix.Graph.Interner.Resolve(*def.SourceApp); ok {
			detail += fmt.Sprintf(" (from %s)", appName)
		}
	}
	return protocol.CallHierarchyItem{
		Name:           procName,
		Kind:           definitionKindToSymbolKind(def.Kind),
		Detail:         &detail,
		URI:            uri,
		Range:          r,
		SelectionRange: r,
		Data: map[string]any{
			"object":    objectName,
			"procedure": procName,
		},
	}
}

func toLSPRange(r model.Range) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: r.Start.Line, Character: r.Start.Character},
		End:   protocol.Position{Line: r.End.Line, Character: r.End.Character},
	}
}

func toModelPosition(p protocol.Position) model.Position {
	return model.Position{Line: p.Line, Character: p.Character}
}

func (s *Server) prepareCallHierarchy(glspCtx *glsp.Context, params *protocol.CallHierarchyPrepareParams) ([]protocol.CallHierarchyItem, error) {
	s.throttle()
	defer recordRequest("textDocument/prepareCallHierarchy", time.Now())
	_, span := observability.Tracer.Start(context.Background(), "lspserver.prepareCallHierarchy")
	defer span.End()

	path, err := uriToPath(string(params.TextDocument.URI))
	if err != nil {
		return nil, nil
	}
	qn, def, ok := s.ix.Graph.DefinitionAt(path, toModelPosition(params.Position))
	if !ok {
		return nil, nil
	}
	return []protocol.CallHierarchyItem{s.itemFor(qn, def)}, nil
}

func (s *Server) incomingCalls(glspCtx *glsp.Context, params *protocol.CallHierarchyIncomingCallsParams) ([]protocol.CallHierarchyIncomingCall, error) {
	s.throttle()
	defer recordRequest("callHierarchy/incomingCalls", time.Now())
	_, span := observability.Tracer.Start(context.Background(), "lspserver.incomingCalls")
	defer span.End()

	qn, ok := s.qualifiedNameOf(params.Item.Data)
	if !ok {
		return nil, nil
	}

	var out []protocol.CallHierarchyIncomingCall
	for _, cs := range s.ix.Graph.Incoming(qn) {
		callerName, _ := s.ix.Graph.Interner.Resolve(cs.Caller.Procedure)
		objectName, _ := s.ix.Graph.Interner.Resolve(cs.Caller.Object)
		fromItem := protocol.CallHierarchyItem{
			Name:   callerName,
			Kind:   protocol.SymbolKindFunction,
			URI:    protocol.DocumentUri(pathToURI(cs.File)),
			Range:  toLSPRange(cs.Range),
			Detail: strPtr(fmt.Sprintf("%s.%s", objectName, callerName)),
			Data: map[string]any{
				"object":    objectName,
				"procedure": callerName,
			},
		}
		out = append(out, protocol.CallHierarchyIncomingCall{
			From:       fromItem,
			FromRanges: []protocol.Range{toLSPRange(cs.Range)},
		})
	}

	for _, subQN := range s.ix.Graph.SubscribersOf(qn.Object, qn.Procedure) {
		def, ok := s.ix.Graph.GetDefinition(subQN)
		if !ok {
			continue
		}
		item := s.itemFor(subQN, def)
		detail := *item.Detail + " [EventSubscriber]"
		item.Detail = &detail
		item.Kind = protocol.SymbolKindEvent
		out = append(out, protocol.CallHierarchyIncomingCall{
			From:       item,
			FromRanges: []protocol.Range{item.Range},
		})
	}

	return out, nil
}

func strPtr(s string) *string { return &s }

func (s *Server) outgoingCalls(glspCtx *glsp.Context, params *protocol.CallHierarchyOutgoingCallsParams) ([]protocol.CallHierarchyOutgoingCall, error) {
	s.throttle()
	defer recordRequest("callHierarchy/outgoingCalls", time.Now())
	_, span := observability.Tracer.Start(context.Background(), "lspserver.outgoingCalls")
	defer span.End()

	qn, ok := s.qualifiedNameOf(params.Item.Data)
	if !ok {
		return nil, nil
	}

	var out []protocol.CallHierarchyOutgoingCall
	for _, cs := range s.ix.Graph.Outgoing(qn) {
		if cs.Resolved == nil {
			continue
		}
		target := *cs.Resolved

		if def, ok := s.ix.Graph.GetDefinition(target); ok {
			out = append(out, protocol.CallHierarchyOutgoingCall{
				To:         s.itemFor(target, def),
				FromRanges: []protocol.Range{toLSPRange(cs.Range)},
			})
			continue
		}

		objectName, _ := s.ix.Graph.Interner.Resolve(target.Object)
		procName, _ := s.ix.Graph.Interner.Resolve(target.Procedure)
		detail := fmt.Sprintf("%s.%s (external)", objectName, procName)
		if cs.Receiver.Kind == model.ReceiverImplicit {
			detail = fmt.Sprintf("%s.%s (local)", objectName, procName)
		}
		out = append(out, protocol.CallHierarchyOutgoingCall{
			To: protocol.CallHierarchyItem{
				Name:   procName,
				Kind:   protocol.SymbolKindFunction,
				Detail: strPtr(detail),
				URI:    protocol.DocumentUri(pathToURI(cs.File)),
				Range:  toLSPRange(cs.Range),
			},
			FromRanges: []protocol.Range{toLSPRange(cs.Range)},
		})
	}
	return out, nil
}

func (s *Server) codeLens(glspCtx *glsp.Context, params *protocol.CodeLensParams) ([]protocol.CodeLens, error) {
	s.throttle()
	defer recordRequest("textDocument/codeLens", time.Now())
	_, span := observability.Tracer.Start(context.Background(), "lspserver.codeLens")
	defer span.End()

	path, err := uriToPath(string(params.TextDocument.URI))
	if err != nil {
		return nil, nil
	}

	var out []protocol.CodeLens
	for _, def := range s.ix.Graph.DefinitionsInFile(path) {
		qn := model.QualifiedName{Object: def.ObjectName, Procedure: def.Name}
		n := s.ix.Graph.IncomingCallCount(qn)

		text := lensText(n, def.Metrics, s.cfg.Thresholds)
		if n == 0 && def.Kind == model.DefinitionKindProcedure {
			text = "⚠ unused: " + text
		}

		objectName, _ := s.ix.Graph.Interner.Resolve(def.ObjectName)
		procName, _ := s.ix.Graph.Interner.Resolve(def.Name)

		out = append(out, protocol.CodeLens{
			Range: toLSPRange(def.Range),
			Command: &protocol.Command{
				Title:     text,
				Command:   "al-call-hierarchy.showReferences",
				Arguments: []any{pathToURI(path), def.Range.Start, objectName, procName},
			},
		})
	}
	return out, nil
}

// lensText renders one definition's lens title: reference count first,
// then each metric annotated with a warning marker at or above its
// critical threshold, or a parenthesized hint at or above the warning
// one. Line count is the exception, marked only past critical.
func lensText(refs int, m model.Metrics, th model.Thresholds) string {
	ref := fmt.Sprintf("%d references", refs)
	if refs == 1 {
		ref = "1 reference"
	}

	complexity := fmt.Sprintf("complexity: %d", m.CyclomaticComplexity)
	switch {
	case int(m.CyclomaticComplexity) >= th.ComplexityCritical:
		complexity = fmt.Sprintf("complexity: %d ⚠️ (>%d)", m.CyclomaticComplexity, th.ComplexityCritical)
	case int(m.CyclomaticComplexity) >= th.ComplexityWarning:
		complexity = fmt.Sprintf("complexity: %d (>%d)", m.CyclomaticComplexity, th.ComplexityWarning)
	}

	// Line count has a single tier: only crossing the critical threshold
	// earns a marker.
	lines := fmt.Sprintf("lines: %d", m.LineCount)
	if int(m.LineCount) > th.LengthCritical {
		lines = fmt.Sprintf("lines: %d ⚠️ (>%d)", m.LineCount, th.LengthCritical)
	}

	params := fmt.Sprintf("params: %d", m.ParamCount)
	switch {
	case int(m.ParamCount) >= th.ParamsCritical:
		params = fmt.Sprintf("params: %d ⚠️ (>%d)", m.ParamCount, th.ParamsCritical)
	case int(m.ParamCount) >= th.ParamsWarning:
		params = fmt.Sprintf("params: %d (>%d)", m.ParamCount, th.ParamsWarning)
	}

	text := fmt.Sprintf("%s | %s, %s, %s", ref, complexity, lines, params)
	if m.QualityScore != nil {
		text += fmt.Sprintf(", quality: %.1f/10", *m.QualityScore)
	}
	return text
}

// publishMissingDependencies attaches one warning per unresolved app.json
// declaration to the manifest file itself, so the editor surfaces the gap
// where the user would fix it.
func (s *Server) publishMissingDependencies(context *glsp.Context, root string, missing []dependencies.Missing) {
	var diags []protocol.Diagnostic
	for _, m := range missing {
		diags = append(diags, diagnostic(model.Range{}, protocol.DiagnosticSeverityWarning,
			"missing-dependency",
			fmt.Sprintf("dependency %q (%s) unresolved: %s", m.Declaration.Name, m.Declaration.Version, m.Reason), nil))
	}
	context.Notify("textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI:         protocol.DocumentUri(pathToURI(filepath.Join(root, "app.json"))),
		Diagnostics: diags,
	})
}

// publishDiagnosticsForFile computes UnusedProcedure, HighFanIn, and
// LongMethod diagnostics for every definition in path and pushes them.
func (s *Server) publishDiagnosticsForFile(context *glsp.Context, path string) {
	var diags []protocol.Diagnostic
	for _, def := range s.ix.Graph.DefinitionsInFile(path) {
		qn := model.QualifiedName{Object: def.ObjectName, Procedure: def.Name}
		n := s.ix.Graph.IncomingCallCount(qn)

		if def.Kind == model.DefinitionKindProcedure && n == 0 {
			diags = append(diags, diagnostic(def.Range, protocol.DiagnosticSeverityHint,
				"unused-procedure", "procedure has no callers", []protocol.DiagnosticTag{protocol.DiagnosticTagUnnecessary}))
		}
		if n > s.cfg.Thresholds.FanInWarning {
			diags = append(diags, diagnostic(def.Range, protocol.DiagnosticSeverityInformation,
				"high-fan-in", fmt.Sprintf("called from %d sites", n), nil))
		}
		if int(def.Metrics.LineCount) > s.cfg.Thresholds.LengthCritical {
			diags = append(diags, diagnostic(def.Range, protocol.DiagnosticSeverityInformation,
				"long-method", fmt.Sprintf("%d lines", def.Metrics.LineCount), nil))
		}
	}

	context.Notify("textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI:         protocol.DocumentUri(pathToURI(path)),
		Diagnostics: diags,
	})
}

func recordRequest(method string, start time.Time) {
	observability.LSPRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func diagnostic(r model.Range, severity protocol.DiagnosticSeverity, code, message string, tags []protocol.DiagnosticTag) protocol.Diagnostic {
	source := "al-call-hierarchy"
	return protocol.Diagnostic{
		Range:    toLSPRange(r),
		Severity: &severity,
		Code:     &protocol.IntegerOrString{Value: code},
		Source:   &source,
		Message:  message,
		Tags:     tags,
	}
}
