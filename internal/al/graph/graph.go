// Package graph implements the call-hierarchy index: the single
// reader-writer-locked structure holding every known definition, call site,
// and variable binding, plus the resolver that turns syntactic call sites
// into edges between definitions.
package graph

import (
	"sort"
	"sync"

	"github.com/SShadowS/al-call-hierarchy/internal/al/model"
	"github.com/SShadowS/al-call-hierarchy/internal/shared/util"
)

// resolvableObjectTypes are the object kinds a VariableRef may resolve
// through. A Record-typed variable is handled separately (reclassified as
// RecordRef rather than resolved) because AL's built-in record methods are
// out of scope for edge construction.
var resolvableObjectTypes = map[model.ObjectType]bool{
	model.ObjectTypeCodeunit:  true,
	model.ObjectTypePage:      true,
	model.ObjectTypeReport:    true,
	model.ObjectTypeQuery:     true,
	model.ObjectTypeXmlPort:   true,
	model.ObjectTypeInterface: true,
	model.ObjectTypeEnum:      true,
}

type eventKey struct {
	PublisherObject model.Symbol
	EventName       model.Symbol
}

// FileParse is one file's extraction result, ready to be merged into the
// graph by ReplaceFile.
type FileParse struct {
	Path        string
	Definitions []model.Definition
	CallSites   []model.CallSite
	// GlobalVariables and LocalVariables are keyed by the owner the
	// indexer resolved them against: an object name for globals, the
	// enclosing procedure's QualifiedName for locals.
	GlobalVariables map[model.Symbol][]model.Variable
	LocalVariables  map[model.QualifiedName][]model.Variable
}

// CallGraph is the central index. All exported methods are safe for
// concurrent use; writers take the write lock, readers the read lock.
type CallGraph struct {
	mu sync.RWMutex

	Interner *model.Interner

	definitions map[model.QualifiedName]model.Definition
	byFile      map[string]map[model.QualifiedName]bool

	// callSites is append-only and index-stable: ReplaceFile tombstones
	// (nils out) a removed file's entries rather than shrinking the
	// slice, so every index held in fileCallSites/incoming/outgoing stays
	// valid for the graph's lifetime.
	callSites     []*model.CallSite
	fileCallSites map[string][]int
	incoming      map[model.QualifiedName][]int
	outgoing      map[model.QualifiedName][]int

	objectTypes map[model.Symbol]model.ObjectType

	globalVariables map[model.Symbol]map[model.Symbol]model.Variable
	localVariables  map[model.QualifiedName]map[model.Symbol]model.Variable

	// fileGlobalOwners/fileLocalOwners record which owners received
	// variables from a given file, so ReplaceFile can clean up without a
	// full scan.
	fileGlobalOwners map[string][]model.Symbol
	fileLocalOwners  map[string][]model.QualifiedName

	eventSubscribers map[eventKey][]model.QualifiedName
}

// New creates an empty graph backed by a fresh interner.
func New() *CallGraph {
	return &CallGraph{
		Interner:         model.NewInterner(),
		definitions:      make(map[model.QualifiedName]model.Definition),
		byFile:           make(map[string]map[model.QualifiedName]bool),
		fileCallSites:    make(map[string][]int),
		incoming:         make(map[model.QualifiedName][]int),
		outgoing:         make(map[model.QualifiedName][]int),
		objectTypes:      make(map[model.Symbol]model.ObjectType),
		globalVariables:  make(map[model.Symbol]map[model.Symbol]model.Variable),
		localVariables:   make(map[model.QualifiedName]map[model.Symbol]model.Variable),
		fileGlobalOwners: make(map[string][]model.Symbol),
		fileLocalOwners:  make(map[string][]model.QualifiedName),
		eventSubscribers: make(map[eventKey][]model.QualifiedName),
	}
}

// RegisterObject records that sym names a known AL object of type t. The
// resolver consults this before ever looking at variable bindings, so
// object identity always wins over a same-named variable.
func (g *CallGraph) RegisterObject(sym model.Symbol, t model.ObjectType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objectTypes[sym] = t
}

// ObjectType returns the registered type of sym, if any.
func (g *CallGraph) ObjectType(sym model.Symbol) (model.ObjectType, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.objectTypes[sym]
	return t, ok
}

// ReplaceFile atomically swaps everything the graph knows about path with
// fp. Resolution runs only over the newly inserted call sites; sites in
// other files keep whatever binding they already have. Since a binding
// records a qualified name rather than a pointer into the definitions map,
// cross-file edges survive the target file's replacement without any
// graph-wide sweep — a target that truly disappeared simply stops
// producing a definition at query time.
func (g *CallGraph) ReplaceFile(fp FileParse) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.removeFileLocked(fp.Path)

	for _, d := range fp.Definitions {
		qn := model.QualifiedName{Object: d.ObjectName, Procedure: d.Name}
		g.definitions[qn] = d
		if _, ok := g.byFile[fp.Path]; !ok {
			g.byFile[fp.Path] = make(map[model.QualifiedName]bool)
		}
		g.byFile[fp.Path][qn] = true

		if d.EventBinding != nil {
			k := eventKey{PublisherObject: d.EventBinding.PublisherObject, EventName: d.EventBinding.EventName}
			g.eventSubscribers[k] = appendUniqueQN(g.eventSubscribers[k], qn)
		}
	}

	for owner, vars := range fp.GlobalVariables {
		m, ok := g.globalVariables[owner]
		if !ok {
			m = make(map[model.Symbol]model.Variable)
			g.globalVariables[owner] = m
		}
		for _, v := range vars {
			m[v.Name] = v
		}
		g.fileGlobalOwners[fp.Path] = append(g.fileGlobalOwners[fp.Path], owner)
	}
	for qn, vars := range fp.LocalVariables {
		m, ok := g.localVariables[qn]
		if !ok {
			m = make(map[model.Symbol]model.Variable)
			g.localVariables[qn] = m
		}
		for _, v := range vars {
			m[v.Name] = v
		}
		g.fileLocalOwners[fp.Path] = append(g.fileLocalOwners[fp.Path], qn)
	}

	seen := make(map[callKey]bool, len(fp.CallSites))
	for _, cs := range fp.CallSites {
		cs := cs
		k := callKey{Caller: cs.Caller, Callee: cs.Callee, Range: cs.Range}
		if seen[k] {
			continue
		}
		seen[k] = true
		idx := len(g.callSites)
		g.callSites = append(g.callSites, &cs)
		g.fileCallSites[fp.Path] = append(g.fileCallSites[fp.Path], idx)
		g.outgoing[cs.Caller] = append(g.outgoing[cs.Caller], idx)
		g.resolveLocked(idx)
	}
}

type callKey struct {
	Caller model.QualifiedName
	Callee model.Symbol
	Range  model.Range
}

func appendUniqueQN(s []model.QualifiedName, qn model.QualifiedName) []model.QualifiedName {
	for _, e := range s {
		if e == qn {
			return s
		}
	}
	return append(s, qn)
}

// removeFileLocked drops every definition, variable binding, and call site
// belonging to path, tombstoning the call sites and pruning their indices
// out of incoming/outgoing. Call sites sourced elsewhere that targeted one
// of path's definitions keep their binding untouched: the bound qualified
// name is valid again the moment the definition reappears, and resolves to
// nothing at query time while it is gone.
func (g *CallGraph) removeFileLocked(path string) {
	for qn := range g.byFile[path] {
		if d, ok := g.definitions[qn]; ok && d.EventBinding != nil {
			k := eventKey{PublisherObject: d.EventBinding.PublisherObject, EventName: d.EventBinding.EventName}
			g.eventSubscribers[k] = removeQN(g.eventSubscribers[k], qn)
		}
		delete(g.definitions, qn)
	}
	delete(g.byFile, path)

	for _, owner := range g.fileGlobalOwners[path] {
		delete(g.globalVariables, owner)
	}
	delete(g.fileGlobalOwners, path)
	for _, qn := range g.fileLocalOwners[path] {
		delete(g.localVariables, qn)
	}
	delete(g.fileLocalOwners, path)

	// Each removed site is unhooked from exactly the two index lists it
	// appears in, so cleanup cost tracks the removed file's size, not the
	// graph's.
	for _, idx := range g.fileCallSites[path] {
		cs := g.callSites[idx]
		if cs == nil {
			continue
		}
		g.outgoing[cs.Caller] = removeIdx(g.outgoing[cs.Caller], idx)
		if cs.Resolved != nil {
			g.incoming[*cs.Resolved] = removeIdx(g.incoming[*cs.Resolved], idx)
		}
		g.callSites[idx] = nil
	}
	delete(g.fileCallSites, path)
}

func removeIdx(s []int, v int) []int {
	out := s[:0]
	for _, e := range s {
		if e != v {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func removeQN(s []model.QualifiedName, qn model.QualifiedName) []model.QualifiedName {
	out := s[:0]
	for _, e := range s {
		if e != qn {
			out = append(out, e)
		}
	}
	return out
}

// InsertExternals bulk-adds ExternalProcedure definitions with no call
// sites, as produced by the app-package loader.
func (g *CallGraph) InsertExternals(defs []model.Definition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, d := range defs {
		qn := model.QualifiedName{Object: d.ObjectName, Procedure: d.Name}
		g.definitions[qn] = d
	}
}

// resolveLocked implements the resolution algorithm against call site idx,
// mutating it in place. A site that already has a Resolved target is left
// untouched — re-running resolution after new variables or definitions
// appear must never invert an existing binding (monotonicity, P3).
func (g *CallGraph) resolveLocked(idx int) {
	cs := g.callSites[idx]
	if cs == nil || cs.Resolved != nil {
		return
	}

	var target *model.QualifiedName

	switch cs.Receiver.Kind {
	case model.ReceiverImplicit:
		qn := model.QualifiedName{Object: cs.Caller.Object, Procedure: cs.Callee}
		target = &qn

	case model.ReceiverObjectLiteral, model.ReceiverVariableRef:
		// Object identity wins over a same-named variable: a qualified
		// name already registered as a known object binds directly,
		// without consulting variable bindings at all.
		if _, ok := g.objectTypes[cs.Receiver.Name]; ok {
			qn := model.QualifiedName{Object: cs.Receiver.Name, Procedure: cs.Callee}
			target = &qn
			break
		}
		if cs.Receiver.Kind == model.ReceiverVariableRef {
			if v, ok := g.lookupVariable(cs.Caller, cs.Receiver.Name); ok {
				if v.DeclaredType == model.ObjectTypeRecord {
					cs.Receiver = model.Receiver{Kind: model.ReceiverRecordRef, Name: v.Target}
					return
				}
				if resolvableObjectTypes[v.DeclaredType] {
					qn := model.QualifiedName{Object: v.Target, Procedure: cs.Callee}
					target = &qn
					break
				}
			}
		}
		// Fallback: treat the qualified name as the object name verbatim.
		// It may be an external object whose definition hasn't been
		// loaded yet; the edge simply resolves to nothing at query time
		// if the target is genuinely unknown.
		qn := model.QualifiedName{Object: cs.Receiver.Name, Procedure: cs.Callee}
		target = &qn

	case model.ReceiverRecordRef:
		// Built-in record methods are never edges; nothing to resolve.
		return
	}

	if target == nil {
		return
	}
	cs.Resolved = target
	g.incoming[*target] = appendUniqueInt(g.incoming[*target], idx)
}

func appendUniqueInt(s []int, v int) []int {
	for _, e := range s {
		if e == v {
			return s
		}
	}
	return append(s, v)
}

// lookupVariable checks the caller's local scope first, then the enclosing
// object's global scope — the base resolver's fallback order.
func (g *CallGraph) lookupVariable(caller model.QualifiedName, name model.Symbol) (model.Variable, bool) {
	if locals, ok := g.localVariables[caller]; ok {
		if v, ok := locals[name]; ok {
			return v, true
		}
	}
	if globals, ok := g.globalVariables[caller.Object]; ok {
		if v, ok := globals[name]; ok {
			return v, true
		}
	}
	return model.Variable{}, false
}

// DefinitionAt returns the innermost definition whose range contains pos in
// path, or false if none matches.
func (g *CallGraph) DefinitionAt(path string, pos model.Position) (model.QualifiedName, model.Definition, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var bestQN model.QualifiedName
	var best model.Definition
	found := false
	for qn := range g.byFile[path] {
		d := g.definitions[qn]
		if !d.Range.Contains(pos) {
			continue
		}
		if !found || isInnerRange(d.Range, best.Range) {
			bestQN, best, found = qn, d, true
		}
	}
	return bestQN, best, found
}

func isInnerRange(candidate, current model.Range) bool {
	candidateLines := candidate.End.Line - candidate.Start.Line
	currentLines := current.End.Line - current.Start.Line
	return candidateLines < currentLines
}

// GetDefinition looks up a definition by its qualified name.
func (g *CallGraph) GetDefinition(qn model.QualifiedName) (model.Definition, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.definitions[qn]
	return d, ok
}

// Incoming returns every live call site resolved to qn. Event-subscriber
// back-edges are produced from the subscriber bindings themselves (see
// SubscribersOf), not from raise-site extraction.
func (g *CallGraph) Incoming(qn model.QualifiedName) []model.CallSite {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.CallSite, 0, len(g.incoming[qn]))
	for _, idx := range g.incoming[qn] {
		if cs := g.callSites[idx]; cs != nil && cs.Resolved != nil && *cs.Resolved == qn {
			out = append(out, *cs)
		}
	}
	sortCallSites(out)
	return out
}

// Outgoing returns every live call site whose caller is qn.
func (g *CallGraph) Outgoing(qn model.QualifiedName) []model.CallSite {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.CallSite, 0, len(g.outgoing[qn]))
	for _, idx := range g.outgoing[qn] {
		if cs := g.callSites[idx]; cs != nil {
			out = append(out, *cs)
		}
	}
	sortCallSites(out)
	return out
}

func sortCallSites(cs []model.CallSite) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].File != cs[j].File {
			return cs[i].File < cs[j].File
		}
		if cs[i].Range.Start.Line != cs[j].Range.Start.Line {
			return cs[i].Range.Start.Line < cs[j].Range.Start.Line
		}
		return cs[i].Range.Start.Character < cs[j].Range.Start.Character
	})
}

// SubscribersOf returns every EventSubscriber definition bound to
// (publisherObject, eventName).
func (g *CallGraph) SubscribersOf(publisherObject, eventName model.Symbol) []model.QualifiedName {
	g.mu.RLock()
	defer g.mu.RUnlock()
	k := eventKey{PublisherObject: publisherObject, EventName: eventName}
	out := make([]model.QualifiedName, len(g.eventSubscribers[k]))
	copy(out, g.eventSubscribers[k])
	return out
}

// DefinitionsInFile returns every local (non-external) definition declared
// in path, used to build code lenses.
func (g *CallGraph) DefinitionsInFile(path string) []model.Definition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Definition, 0, len(g.byFile[path]))
	for qn := range g.byFile[path] {
		out = append(out, g.definitions[qn])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Range.Start.Line < out[j].Range.Start.Line
	})
	return out
}

// Files returns every file path with at least one indexed definition,
// sorted.
func (g *CallGraph) Files() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return util.SortedStringKeys(g.byFile)
}

// UnusedProcedures returns definitions with no incoming calls and no
// event-subscriber back-edges, excluding triggers.
func (g *CallGraph) UnusedProcedures() []model.Definition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []model.Definition
	for qn, d := range g.definitions {
		if d.Kind != model.DefinitionKindProcedure {
			continue
		}
		if len(g.liveIncoming(qn)) > 0 {
			continue
		}
		if len(g.eventSubscribers[eventKey{PublisherObject: qn.Object, EventName: qn.Procedure}]) > 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (g *CallGraph) liveIncoming(qn model.QualifiedName) []int {
	var out []int
	for _, idx := range g.incoming[qn] {
		if cs := g.callSites[idx]; cs != nil && cs.Resolved != nil && *cs.Resolved == qn {
			out = append(out, idx)
		}
	}
	return out
}

// IncomingCallCount returns |incoming[qn]|, used by HighFanIn diagnostics
// and code-lens reference counts without allocating the full slice.
func (g *CallGraph) IncomingCallCount(qn model.QualifiedName) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.liveIncoming(qn))
}

// DefinitionCount and CallSiteCount report index sizes for CLI reporting.
func (g *CallGraph) DefinitionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.definitions)
}

func (g *CallGraph) ExternalDefinitionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, d := range g.definitions {
		if d.Kind == model.DefinitionKindExternalProcedure {
			n++
		}
	}
	return n
}

func (g *CallGraph) CallSiteCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, cs := range g.callSites {
		if cs != nil {
			n++
		}
	}
	return n
}

// UnresolvedCallSiteCount reports live call sites with no bound target.
func (g *CallGraph) UnresolvedCallSiteCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, cs := range g.callSites {
		if cs != nil && cs.Resolved == nil {
			n++
		}
	}
	return n
}

// IterDefinitions calls fn for every definition currently in the graph. fn
// must not call back into the graph — it runs under the read lock.
func (g *CallGraph) IterDefinitions(fn func(model.QualifiedName, model.Definition)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for qn, d := range g.definitions {
		fn(qn, d)
	}
}
