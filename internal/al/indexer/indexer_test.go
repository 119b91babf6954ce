package indexer

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SShadowS/al-call-hierarchy/internal/al/extractor"
	"github.com/SShadowS/al-call-hierarchy/internal/al/graph"
	"github.com/SShadowS/al-call-hierarchy/internal/al/model"
)

// newTestIndexer builds an Indexer around a fresh graph without touching
// the grammar loader: addToGraph and addAppToGraph never dereference
// language, only the parsing paths (parseParallel, ReindexFile) do.
func newTestIndexer() *Indexer {
	return &Indexer{Graph: graph.New()}
}

func TestAddToGraph_SkipsFileWithNoObjectHeader(t *testing.T) {
	ix := newTestIndexer()
	ix.addToGraph("no-object.al", &extractor.Result{})
	assert.Equal(t, 0, ix.Graph.DefinitionCount())
}

func TestAddToGraph_RegistersObjectAndDefinitions(t *testing.T) {
	ix := newTestIndexer()
	res := &extractor.Result{
		ObjectType: "Codeunit",
		ObjectName: "MyCodeunit",
		Definitions: []extractor.ParsedDefinition{
			{Kind: model.DefinitionKindProcedure, Name: "Foo", ParamCount: 1, LineCount: 5, Complexity: 1},
			{Kind: model.DefinitionKindProcedure, Name: "Bar", ParamCount: 0, LineCount: 3, Complexity: 1},
		},
		Calls: []extractor.ParsedCall{
			{Object: "", Method: "Bar", ContainingProcedure: "Foo"},
		},
	}
	ix.addToGraph("a.al", res)

	assert.Equal(t, 2, ix.Graph.DefinitionCount())
	objSym, ok := ix.Graph.Interner.Lookup("MyCodeunit")
	require.True(t, ok)
	barSym, ok := ix.Graph.Interner.Lookup("Bar")
	require.True(t, ok)
	qn := model.QualifiedName{Object: objSym, Procedure: barSym}
	assert.Equal(t, 1, ix.Graph.IncomingCallCount(qn))
}

func TestAddToGraph_ObjectLiteralCallSite(t *testing.T) {
	ix := newTestIndexer()
	res := &extractor.Result{
		ObjectType: "Codeunit",
		ObjectName: "Caller",
		Definitions: []extractor.ParsedDefinition{
			{Kind: model.DefinitionKindProcedure, Name: "Run"},
		},
		Calls: []extractor.ParsedCall{
			{Object: `Codeunit::"Target Codeunit"`, Method: "Do", ContainingProcedure: "Run"},
		},
	}
	ix.addToGraph("b.al", res)

	callerObj, _ := ix.Graph.Interner.Lookup("Caller")
	runProc, _ := ix.Graph.Interner.Lookup("Run")
	out := ix.Graph.Outgoing(model.QualifiedName{Object: callerObj, Procedure: runProc})
	require.Len(t, out, 1)
	assert.Equal(t, model.ReceiverObjectLiteral, out[0].Receiver.Kind)

	targetObj, ok := ix.Graph.Interner.Lookup("Target Codeunit")
	require.True(t, ok)
	require.NotNil(t, out[0].Resolved)
	assert.Equal(t, targetObj, out[0].Resolved.Object)
}

func TestAddToGraph_VariableTargetParticipatesInResolution(t *testing.T) {
	ix := newTestIndexer()
	res := &extractor.Result{
		ObjectType: "Codeunit",
		ObjectName: "Caller",
		Definitions: []extractor.ParsedDefinition{
			{Kind: model.DefinitionKindProcedure, Name: "Run"},
		},
		Variables: []extractor.ParsedVariable{
			{Name: "Helper", DeclaredType: "Codeunit", Target: "HelperCodeunit", ContainingProcedure: "Run"},
		},
		Calls: []extractor.ParsedCall{
			{Object: "Helper", Method: "Assist", ContainingProcedure: "Run"},
		},
	}
	ix.addToGraph("c.al", res)

	callerObj, _ := ix.Graph.Interner.Lookup("Caller")
	runProc, _ := ix.Graph.Interner.Lookup("Run")
	out := ix.Graph.Outgoing(model.QualifiedName{Object: callerObj, Procedure: runProc})
	require.Len(t, out, 1)

	helperObj, ok := ix.Graph.Interner.Lookup("HelperCodeunit")
	require.True(t, ok)
	require.NotNil(t, out[0].Resolved)
	assert.Equal(t, helperObj, out[0].Resolved.Object)
}

func writeTestAppFile(t *testing.T, dir, name, appName, objName, methodName string) string {
	t.Helper()
	path := filepath.Join(dir, name)

	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	mw, err := zw.Create("NavxManifest.xml")
	require.NoError(t, err)
	_, err = mw.Write([]byte(`<?xml version="1.0"?><Package><App Name="` + appName + `" Publisher="Acme" Version="1.0.0.0" /></Package>`))
	require.NoError(t, err)
	sw, err := zw.Create("SymbolReference.json")
	require.NoError(t, err)
	_, err = sw.Write([]byte(`{"Codeunits":[{"Name":"` + objName + `","Methods":[{"Name":"` + methodName + `"}]}]}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	header := make([]byte, 40)
	var out bytes.Buffer
	out.Write(header)
	out.Write(zipBuf.Bytes())
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func TestIndexDependencies_LoadsResolvedPackages(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, ".alpackages")
	require.NoError(t, os.Mkdir(pkgDir, 0o755))
	writeTestAppFile(t, pkgDir, "Acme_BaseLib_1.0.0.0.app", "BaseLib", "Helper", "Assist")

	manifest := `{"name":"MyApp","dependencies":[{"name":"BaseLib","publisher":"Acme","version":"1.0.0.0"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.json"), []byte(manifest), 0o644))

	ix := newTestIndexer()
	missing, err := ix.IndexDependencies(root)
	require.NoError(t, err)
	assert.Empty(t, missing)

	sym, ok := ix.Graph.Interner.Lookup("Helper")
	require.True(t, ok)
	methodSym, ok := ix.Graph.Interner.Lookup("Assist")
	require.True(t, ok)
	def, ok := ix.Graph.GetDefinition(model.QualifiedName{Object: sym, Procedure: methodSym})
	require.True(t, ok)
	assert.Equal(t, model.DefinitionKindExternalProcedure, def.Kind)
	assert.Nil(t, def.File)
}

func TestIndexDependencies_NoAppJsonIsNoop(t *testing.T) {
	root := t.TempDir()
	ix := newTestIndexer()
	missing, err := ix.IndexDependencies(root)
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Equal(t, 0, ix.Graph.DefinitionCount())
}
