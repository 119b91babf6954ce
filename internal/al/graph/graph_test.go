package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SShadowS/al-call-hierarchy/internal/al/model"
)

func defAt(g *CallGraph, path, object, proc string, line uint32) model.Definition {
	return model.Definition{
		File:       &path,
		Range:      model.Range{Start: model.Position{Line: line}, End: model.Position{Line: line + 5}},
		ObjectType: model.ObjectTypeCodeunit,
		ObjectName: g.Interner.Intern(object),
		Name:       g.Interner.Intern(proc),
		Kind:       model.DefinitionKindProcedure,
	}
}

func TestCallGraph_ImplicitCallResolvesWithinObject(t *testing.T) {
	g := New()
	g.RegisterObject(g.Interner.Intern("MyCodeunit"), model.ObjectTypeCodeunit)

	caller := defAt(g, "a.al", "MyCodeunit", "Foo", 0)
	callee := defAt(g, "a.al", "MyCodeunit", "Bar", 10)

	callSite := model.CallSite{
		File:     "a.al",
		Range:    model.Range{Start: model.Position{Line: 1}, End: model.Position{Line: 1}},
		Caller:   model.QualifiedName{Object: caller.ObjectName, Procedure: caller.Name},
		Receiver: model.Receiver{Kind: model.ReceiverImplicit},
		Callee:   callee.Name,
	}

	g.ReplaceFile(FileParse{
		Path:        "a.al",
		Definitions: []model.Definition{caller, callee},
		CallSites:   []model.CallSite{callSite},
	})

	qn := model.QualifiedName{Object: callee.ObjectName, Procedure: callee.Name}
	incoming := g.Incoming(qn)
	require.Len(t, incoming, 1)
	assert.NotNil(t, incoming[0].Resolved)
}

func TestCallGraph_ObjectIdentityWinsOverVariable(t *testing.T) {
	g := New()
	objA := g.Interner.Intern("CodeunitA")
	g.RegisterObject(objA, model.ObjectTypeCodeunit)
	objB := g.Interner.Intern("CodeunitB")
	g.RegisterObject(objB, model.ObjectTypeCodeunit)

	callerObj := g.Interner.Intern("Caller")
	g.RegisterObject(callerObj, model.ObjectTypeCodeunit)
	callerProc := g.Interner.Intern("Run")
	method := g.Interner.Intern("Do")

	caller := model.Definition{
		ObjectName: callerObj, Name: callerProc, Kind: model.DefinitionKindProcedure,
	}
	target := model.Definition{
		ObjectName: objA, Name: method, Kind: model.DefinitionKindProcedure,
	}

	// The receiver names a registered object (CodeunitA) and also a local
	// variable of the caller typed as CodeunitB, so resolution must bind to
	// CodeunitA directly without ever consulting variable bindings.
	shadow := model.Variable{
		Name:         objA,
		DeclaredType: model.ObjectTypeCodeunit,
		Target:       objB,
		Scope:        model.Scope{Kind: model.ScopeLocal, Owner: callerProc},
	}
	callSite := model.CallSite{
		File:     "b.al",
		Caller:   model.QualifiedName{Object: callerObj, Procedure: callerProc},
		Receiver: model.Receiver{Kind: model.ReceiverVariableRef, Name: objA},
		Callee:   method,
	}

	g.ReplaceFile(FileParse{
		Path:        "b.al",
		Definitions: []model.Definition{caller, target},
		CallSites:   []model.CallSite{callSite},
		LocalVariables: map[model.QualifiedName][]model.Variable{
			{Object: callerObj, Procedure: callerProc}: {shadow},
		},
	})

	qn := model.QualifiedName{Object: objA, Procedure: method}
	require.Len(t, g.Incoming(qn), 1)
	assert.Empty(t, g.Incoming(model.QualifiedName{Object: objB, Procedure: method}))
}

func TestCallGraph_RecordRefNeverResolves(t *testing.T) {
	g := New()
	callerObj := g.Interner.Intern("Caller")
	g.RegisterObject(callerObj, model.ObjectTypeCodeunit)
	callerProc := g.Interner.Intern("Run")
	customerSym := g.Interner.Intern("Customer")

	caller := model.Definition{ObjectName: callerObj, Name: callerProc, Kind: model.DefinitionKindProcedure}
	variable := model.Variable{
		Name:         g.Interner.Intern("Cust"),
		DeclaredType: model.ObjectTypeRecord,
		Target:       customerSym,
		Scope:        model.Scope{Kind: model.ScopeLocal, Owner: callerProc},
	}

	callSite := model.CallSite{
		File:     "c.al",
		Caller:   model.QualifiedName{Object: callerObj, Procedure: callerProc},
		Receiver: model.Receiver{Kind: model.ReceiverVariableRef, Name: variable.Name},
		Callee:   g.Interner.Intern("Validate"),
	}

	g.ReplaceFile(FileParse{
		Path:           "c.al",
		Definitions:    []model.Definition{caller},
		CallSites:      []model.CallSite{callSite},
		LocalVariables: map[model.QualifiedName][]model.Variable{{Object: callerObj, Procedure: callerProc}: {variable}},
	})

	out := g.Outgoing(model.QualifiedName{Object: callerObj, Procedure: callerProc})
	require.Len(t, out, 1)
	assert.Nil(t, out[0].Resolved)
	assert.Equal(t, model.ReceiverRecordRef, out[0].Receiver.Kind)
}

func TestCallGraph_BindingIsMonotonicAcrossLaterReplace(t *testing.T) {
	g := New()
	callerObj := g.Interner.Intern("Caller")
	g.RegisterObject(callerObj, model.ObjectTypeCodeunit)
	callerProc := g.Interner.Intern("Run")
	targetObj := g.Interner.Intern("Target")
	targetProc := g.Interner.Intern("Method")

	caller := model.Definition{ObjectName: callerObj, Name: callerProc, Kind: model.DefinitionKindProcedure}
	callSite := model.CallSite{
		File:     "d.al",
		Caller:   model.QualifiedName{Object: callerObj, Procedure: callerProc},
		Receiver: model.Receiver{Kind: model.ReceiverObjectLiteral, Name: targetObj},
		Callee:   targetProc,
	}

	// Target object is not yet registered: binds optimistically anyway.
	g.ReplaceFile(FileParse{Path: "d.al", Definitions: []model.Definition{caller}, CallSites: []model.CallSite{callSite}})

	qn := model.QualifiedName{Object: targetObj, Procedure: targetProc}
	before := g.Outgoing(model.QualifiedName{Object: callerObj, Procedure: callerProc})
	require.Len(t, before, 1)
	require.NotNil(t, before[0].Resolved)
	resolvedBefore := *before[0].Resolved

	// Defining the target later must not change the already-bound target.
	g.RegisterObject(targetObj, model.ObjectTypeCodeunit)
	target := model.Definition{ObjectName: targetObj, Name: targetProc, Kind: model.DefinitionKindProcedure}
	g.ReplaceFile(FileParse{Path: "e.al", Definitions: []model.Definition{target}})

	after := g.Outgoing(model.QualifiedName{Object: callerObj, Procedure: callerProc})
	require.Len(t, after, 1)
	require.NotNil(t, after[0].Resolved)
	assert.Equal(t, resolvedBefore, *after[0].Resolved)
	assert.Equal(t, qn, *after[0].Resolved)
}

func TestCallGraph_ReplaceFileTombstonesOldCallSites(t *testing.T) {
	g := New()
	callerObj := g.Interner.Intern("Caller")
	g.RegisterObject(callerObj, model.ObjectTypeCodeunit)
	callerProc := g.Interner.Intern("Run")
	callee := g.Interner.Intern("Bar")

	caller := model.Definition{ObjectName: callerObj, Name: callerProc, Kind: model.DefinitionKindProcedure}
	callSite := model.CallSite{
		File:     "f.al",
		Caller:   model.QualifiedName{Object: callerObj, Procedure: callerProc},
		Receiver: model.Receiver{Kind: model.ReceiverImplicit},
		Callee:   callee,
	}
	g.ReplaceFile(FileParse{Path: "f.al", Definitions: []model.Definition{caller}, CallSites: []model.CallSite{callSite}})
	assert.Equal(t, 1, g.CallSiteCount())

	// Replacing with an empty parse (file removed) must drop the call site.
	g.ReplaceFile(FileParse{Path: "f.al"})
	assert.Equal(t, 0, g.CallSiteCount())
	assert.Equal(t, 0, g.DefinitionCount())
}

func TestCallGraph_SubscribersOf(t *testing.T) {
	g := New()
	pubObj := g.Interner.Intern("Sales-Post")
	eventName := g.Interner.Intern("OnBeforePost")
	subObj := g.Interner.Intern("MyEventHandlers")
	g.RegisterObject(subObj, model.ObjectTypeCodeunit)
	subProc := g.Interner.Intern("HandleBeforePost")

	sub := model.Definition{
		ObjectName: subObj,
		Name:       subProc,
		Kind:       model.DefinitionKindEventSubscriber,
		EventBinding: &model.EventBinding{
			PublisherObjectType: model.ObjectTypeCodeunit,
			PublisherObject:     pubObj,
			EventName:           eventName,
		},
	}

	g.ReplaceFile(FileParse{Path: "g.al", Definitions: []model.Definition{sub}})

	subscribers := g.SubscribersOf(pubObj, eventName)
	require.Len(t, subscribers, 1)
	assert.Equal(t, model.QualifiedName{Object: subObj, Procedure: subProc}, subscribers[0])
}

func TestCallGraph_UnusedProcedures(t *testing.T) {
	g := New()
	obj := g.Interner.Intern("Codeunit1")
	g.RegisterObject(obj, model.ObjectTypeCodeunit)
	used := model.Definition{ObjectName: obj, Name: g.Interner.Intern("Used"), Kind: model.DefinitionKindProcedure}
	unused := model.Definition{ObjectName: obj, Name: g.Interner.Intern("Dead"), Kind: model.DefinitionKindProcedure}
	caller := model.Definition{ObjectName: obj, Name: g.Interner.Intern("Caller"), Kind: model.DefinitionKindProcedure}

	callSite := model.CallSite{
		File:     "h.al",
		Caller:   model.QualifiedName{Object: obj, Procedure: caller.Name},
		Receiver: model.Receiver{Kind: model.ReceiverImplicit},
		Callee:   used.Name,
	}

	g.ReplaceFile(FileParse{
		Path:        "h.al",
		Definitions: []model.Definition{used, unused, caller},
		CallSites:   []model.CallSite{callSite},
	})

	unusedDefs := g.UnusedProcedures()
	var names []model.Symbol
	for _, d := range unusedDefs {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, unused.Name)
	assert.NotContains(t, names, used.Name)
}

func TestCallGraph_DefinitionAtPicksInnermostRange(t *testing.T) {
	g := New()
	obj := g.Interner.Intern("Codeunit1")
	g.RegisterObject(obj, model.ObjectTypeCodeunit)

	outer := model.Definition{
		File:       strPtrT("i.al"),
		Range:      model.Range{Start: model.Position{Line: 0}, End: model.Position{Line: 100}},
		ObjectName: obj, Name: g.Interner.Intern("Object"), Kind: model.DefinitionKindProcedure,
	}
	inner := model.Definition{
		File:       strPtrT("i.al"),
		Range:      model.Range{Start: model.Position{Line: 10}, End: model.Position{Line: 20}},
		ObjectName: obj, Name: g.Interner.Intern("Inner"), Kind: model.DefinitionKindProcedure,
	}

	g.ReplaceFile(FileParse{Path: "i.al", Definitions: []model.Definition{outer, inner}})

	qn, def, ok := g.DefinitionAt("i.al", model.Position{Line: 15})
	require.True(t, ok)
	assert.Equal(t, inner.Name, qn.Procedure)
	assert.Equal(t, inner.Name, def.Name)
}

func TestCallGraph_CrossFileEdgeSurvivesCalleeFileReplace(t *testing.T) {
	g := New()
	objA := g.Interner.Intern("A")
	g.RegisterObject(objA, model.ObjectTypeCodeunit)
	objB := g.Interner.Intern("B")
	g.RegisterObject(objB, model.ObjectTypeCodeunit)

	bar := model.Definition{ObjectName: objA, Name: g.Interner.Intern("Bar"), Kind: model.DefinitionKindProcedure}
	caller := model.Definition{ObjectName: objB, Name: g.Interner.Intern("Run"), Kind: model.DefinitionKindProcedure}
	callSite := model.CallSite{
		File:     "b.al",
		Caller:   model.QualifiedName{Object: objB, Procedure: caller.Name},
		Receiver: model.Receiver{Kind: model.ReceiverObjectLiteral, Name: objA},
		Callee:   bar.Name,
	}

	g.ReplaceFile(FileParse{Path: "a.al", Definitions: []model.Definition{bar}})
	g.ReplaceFile(FileParse{Path: "b.al", Definitions: []model.Definition{caller}, CallSites: []model.CallSite{callSite}})

	barQN := model.QualifiedName{Object: objA, Procedure: bar.Name}
	require.Len(t, g.Incoming(barQN), 1)

	// Re-saving a.al with the same definition must not orphan b.al's edge.
	g.ReplaceFile(FileParse{Path: "a.al", Definitions: []model.Definition{bar}})
	require.Len(t, g.Incoming(barQN), 1)
}

func strPtrT(s string) *string { return &s }
