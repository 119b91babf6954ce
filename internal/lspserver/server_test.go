package lspserver

import (
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SShadowS/al-call-hierarchy/internal/al/graph"
	"github.com/SShadowS/al-call-hierarchy/internal/al/indexer"
	"github.com/SShadowS/al-call-hierarchy/internal/al/model"
)

func TestPathToURI_RoundTrip(t *testing.T) {
	path := "/home/dev/project/My Codeunit.al"
	uri := pathToURI(path)
	assert.Contains(t, uri, "%20")

	back, err := uriToPath(uri)
	require.NoError(t, err)
	assert.Equal(t, path, back)
}

func TestUriToPath_RejectsNonFileScheme(t *testing.T) {
	_, err := uriToPath("http://example.com/file.al")
	assert.Error(t, err)
}

func TestUriToPath_WindowsStyle(t *testing.T) {
	p, err := uriToPath("file:///C:/projects/app/Codeunit1.al")
	require.NoError(t, err)
	assert.Equal(t, "/C:/projects/app/Codeunit1.al", p)
}

// buildTestServer constructs a Server whose graph is populated directly,
// bypassing indexer.New (which requires a loaded grammar).
func buildTestServer(t *testing.T) (*Server, *graph.CallGraph) {
	t.Helper()
	g := graph.New()
	s := &Server{cfg: DefaultConfig(), ix: &indexer.Indexer{Graph: g}}
	return s, g
}

func TestPrepareCallHierarchy_FindsDefinitionAtPosition(t *testing.T) {
	s, g := buildTestServer(t)

	obj := g.Interner.Intern("MyCodeunit")
	g.RegisterObject(obj, model.ObjectTypeCodeunit)
	proc := g.Interner.Intern("Foo")

	path := "/ws/a.al"
	def := model.Definition{
		File:       &path,
		Range:      model.Range{Start: model.Position{Line: 1}, End: model.Position{Line: 5}},
		ObjectType: model.ObjectTypeCodeunit,
		ObjectName: obj,
		Name:       proc,
		Kind:       model.DefinitionKindProcedure,
	}
	g.ReplaceFile(graph.FileParse{Path: path, Definitions: []model.Definition{def}})

	items, err := s.prepareCallHierarchy(nil, &protocol.CallHierarchyPrepareParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentUri(pathToURI(path))},
			Position:     protocol.Position{Line: 3, Character: 0},
		},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Foo", items[0].Name)
}

func TestIncomingCalls_ReturnsCallersAndSubscribers(t *testing.T) {
	s, g := buildTestServer(t)

	targetObj := g.Interner.Intern("Target")
	g.RegisterObject(targetObj, model.ObjectTypeCodeunit)
	targetProc := g.Interner.Intern("Method")

	callerObj := g.Interner.Intern("Caller")
	g.RegisterObject(callerObj, model.ObjectTypeCodeunit)
	callerProc := g.Interner.Intern("Run")

	caller := model.Definition{ObjectName: callerObj, Name: callerProc, Kind: model.DefinitionKindProcedure}
	callSite := model.CallSite{
		File:     "b.al",
		Caller:   model.QualifiedName{Object: callerObj, Procedure: callerProc},
		Receiver: model.Receiver{Kind: model.ReceiverObjectLiteral, Name: targetObj},
		Callee:   targetProc,
	}
	g.ReplaceFile(graph.FileParse{Path: "b.al", Definitions: []model.Definition{caller}, CallSites: []model.CallSite{callSite}})

	subObj := g.Interner.Intern("Handlers")
	g.RegisterObject(subObj, model.ObjectTypeCodeunit)
	sub := model.Definition{
		ObjectName: subObj,
		Name:       g.Interner.Intern("OnMethod"),
		Kind:       model.DefinitionKindEventSubscriber,
		EventBinding: &model.EventBinding{
			PublisherObjectType: model.ObjectTypeCodeunit,
			PublisherObject:     targetObj,
			EventName:           targetProc,
		},
	}
	g.ReplaceFile(graph.FileParse{Path: "s.al", Definitions: []model.Definition{sub}})

	out, err := s.incomingCalls(nil, &protocol.CallHierarchyIncomingCallsParams{
		Item: protocol.CallHierarchyItem{
			Data: map[string]any{"object": "Target", "procedure": "Method"},
		},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Run", out[0].From.Name)
	assert.Equal(t, "OnMethod", out[1].From.Name)
	assert.Contains(t, *out[1].From.Detail, "[EventSubscriber]")
}

func TestOutgoingCalls_MarksUnresolvedExternal(t *testing.T) {
	s, g := buildTestServer(t)

	callerObj := g.Interner.Intern("Caller")
	g.RegisterObject(callerObj, model.ObjectTypeCodeunit)
	callerProc := g.Interner.Intern("Run")
	caller := model.Definition{ObjectName: callerObj, Name: callerProc, Kind: model.DefinitionKindProcedure}

	calleeObj := g.Interner.Intern("External")
	calleeProc := g.Interner.Intern("DoThing")
	callSite := model.CallSite{
		File:     "c.al",
		Caller:   model.QualifiedName{Object: callerObj, Procedure: callerProc},
		Receiver: model.Receiver{Kind: model.ReceiverObjectLiteral, Name: calleeObj},
		Callee:   calleeProc,
	}
	g.ReplaceFile(graph.FileParse{Path: "c.al", Definitions: []model.Definition{caller}, CallSites: []model.CallSite{callSite}})

	out, err := s.outgoingCalls(nil, &protocol.CallHierarchyOutgoingCallsParams{
		Item: protocol.CallHierarchyItem{
			Data: map[string]any{"object": "Caller", "procedure": "Run"},
		},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, *out[0].To.Detail, "external")
}

func TestCodeLens_FlagsUnusedProcedure(t *testing.T) {
	s, g := buildTestServer(t)

	obj := g.Interner.Intern("MyCodeunit")
	g.RegisterObject(obj, model.ObjectTypeCodeunit)
	proc := g.Interner.Intern("Dead")

	path := "/ws/d.al"
	def := model.Definition{
		File:       &path,
		Range:      model.Range{Start: model.Position{Line: 0}, End: model.Position{Line: 2}},
		ObjectName: obj,
		Name:       proc,
		Kind:       model.DefinitionKindProcedure,
	}
	g.ReplaceFile(graph.FileParse{Path: path, Definitions: []model.Definition{def}})

	lenses, err := s.codeLens(nil, &protocol.CodeLensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentUri(pathToURI(path))},
	})
	require.NoError(t, err)
	require.Len(t, lenses, 1)
	assert.Contains(t, lenses[0].Command.Title, "unused")
}

func TestLensText_ThresholdMarkers(t *testing.T) {
	th := model.DefaultThresholds()

	plain := lensText(1, model.Metrics{CyclomaticComplexity: 3, LineCount: 10, ParamCount: 2}, th)
	assert.Equal(t, "1 reference | complexity: 3, lines: 10, params: 2", plain)

	// Warning markers kick in at the threshold itself; lines stay plain
	// below critical.
	warned := lensText(2, model.Metrics{CyclomaticComplexity: 5, LineCount: 30, ParamCount: 4}, th)
	assert.Contains(t, warned, "2 references")
	assert.Contains(t, warned, "complexity: 5 (>5)")
	assert.Contains(t, warned, "lines: 30,")
	assert.Contains(t, warned, "params: 4 (>4)")
	assert.NotContains(t, warned, "⚠️")

	critBoundary := lensText(2, model.Metrics{CyclomaticComplexity: 10, LineCount: 50, ParamCount: 7}, th)
	assert.Contains(t, critBoundary, "complexity: 10 ⚠️ (>10)")
	assert.Contains(t, critBoundary, "lines: 50,")
	assert.Contains(t, critBoundary, "params: 7 ⚠️ (>7)")

	critical := lensText(0, model.Metrics{CyclomaticComplexity: 15, LineCount: 80, ParamCount: 9}, th)
	assert.Contains(t, critical, "complexity: 15 ⚠️ (>10)")
	assert.Contains(t, critical, "lines: 80 ⚠️ (>50)")
	assert.Contains(t, critical, "params: 9 ⚠️ (>7)")

	score := 6.5
	withQuality := lensText(1, model.Metrics{QualityScore: &score}, th)
	assert.Contains(t, withQuality, "quality: 6.5/10")
}

func TestQualifiedNameOf_RejectsMissingFields(t *testing.T) {
	s, _ := buildTestServer(t)
	_, ok := s.qualifiedNameOf(map[string]any{"object": "Foo"})
	assert.False(t, ok)
	_, ok = s.qualifiedNameOf("not a map")
	assert.False(t, ok)
}
