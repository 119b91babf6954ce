package model

// Position is a zero-based line/character pair, matching LSP's convention.
type Position struct {
	Line      uint32
	Character uint32
}

// Range is an inclusive-start, exclusive-end span, as returned by the parser
// and consumed directly by LSP responses.
type Range struct {
	Start Position
	End   Position
}

// Contains reports whether p falls within r, treating both Start and End
// as inclusive — the containment check CallGraph.DefinitionAt uses.
func (r Range) Contains(p Position) bool {
	if p.Line < r.Start.Line || p.Line > r.End.Line {
		return false
	}
	if p.Line == r.Start.Line && p.Character < r.Start.Character {
		return false
	}
	if p.Line == r.End.Line && p.Character > r.End.Character {
		return false
	}
	return true
}

// ObjectType is an AL object kind. The canonical set comes from AL's own
// object kinds; the four extension kinds and Profile are carried for
// forward compatibility with object kinds a workspace may reference without
// a corresponding declaration ever being parsed locally.
type ObjectType int

const (
	ObjectTypeUnknown ObjectType = iota
	ObjectTypeCodeunit
	ObjectTypeTable
	ObjectTypePage
	ObjectTypeReport
	ObjectTypeQuery
	ObjectTypeXmlPort
	ObjectTypeControlAddIn
	ObjectTypeEnum
	ObjectTypeInterface
	ObjectTypePermissionSet
	ObjectTypeProfile
	ObjectTypePageExtension
	ObjectTypeTableExtension
	ObjectTypeEnumExtension
	ObjectTypePermissionSetExtension
	// ObjectTypeRecord is not an AL object declaration kind — it exists so
	// Variable.DeclaredType can represent a `Record "X"` variable, which the
	// resolver treats differently from object-typed variables (see
	// CallGraph.resolveLocked in package graph).
	ObjectTypeRecord
)

var objectTypeNames = map[ObjectType]string{
	ObjectTypeCodeunit:               "Codeunit",
	ObjectTypeTable:                  "Table",
	ObjectTypePage:                   "Page",
	ObjectTypeReport:                 "Report",
	ObjectTypeQuery:                  "Query",
	ObjectTypeXmlPort:                "XmlPort",
	ObjectTypeControlAddIn:           "ControlAddIn",
	ObjectTypeEnum:                   "Enum",
	ObjectTypeInterface:              "Interface",
	ObjectTypePermissionSet:          "PermissionSet",
	ObjectTypeProfile:                "Profile",
	ObjectTypePageExtension:          "PageExtension",
	ObjectTypeTableExtension:         "TableExtension",
	ObjectTypeEnumExtension:          "EnumExtension",
	ObjectTypePermissionSetExtension: "PermissionSetExtension",
	ObjectTypeRecord:                 "Record",
}

func (t ObjectType) String() string {
	if name, ok := objectTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseObjectType maps an AL keyword or a SymbolReference.json array key
// (singular object-declaration form) to an ObjectType. Unrecognized input
// returns (ObjectTypeUnknown, false) rather than panicking, since callers
// see this on every grammar-driven node and on dependency data from disk.
func ParseObjectType(s string) (ObjectType, bool) {
	for t, name := range objectTypeNames {
		if name == s {
			return t, true
		}
	}
	return ObjectTypeUnknown, false
}

// DefinitionKind distinguishes how a Definition came to exist in the graph.
type DefinitionKind int

const (
	DefinitionKindProcedure DefinitionKind = iota
	DefinitionKindTrigger
	DefinitionKindEventSubscriber
	DefinitionKindExternalProcedure
)

func (k DefinitionKind) String() string {
	switch k {
	case DefinitionKindProcedure:
		return "Procedure"
	case DefinitionKindTrigger:
		return "Trigger"
	case DefinitionKindEventSubscriber:
		return "EventSubscriber"
	case DefinitionKindExternalProcedure:
		return "ExternalProcedure"
	default:
		return "Unknown"
	}
}

// QualifiedName identifies a procedure uniquely within the graph: the
// enclosing object's name plus the procedure's own name, both interned.
// Local procedures use their own object as Object; global triggers use a
// conventional sentinel object symbol chosen by the caller.
type QualifiedName struct {
	Object    Symbol
	Procedure Symbol
}

// Metrics holds the per-definition size/complexity numbers computed once at
// extraction time and reused by code lenses and diagnostics.
type Metrics struct {
	LineCount            uint32
	ParamCount           uint16
	CyclomaticComplexity uint16
	// QualityScore is nil for definitions the extractor never scored (e.g.
	// ExternalProcedure, whose body is never parsed).
	QualityScore *float64
}

// EventBinding records the [EventSubscriber] attribute arguments that made
// a Definition an EventSubscriber.
type EventBinding struct {
	PublisherObjectType ObjectType
	PublisherObject     Symbol
	EventName           Symbol
}

// Definition is one procedure, trigger, event subscriber, or external
// procedure known to the graph.
type Definition struct {
	// File is nil for ExternalProcedure definitions, which have no local
	// source file.
	File  *string
	Range Range

	ObjectType ObjectType
	ObjectName Symbol
	Name       Symbol
	Kind       DefinitionKind

	// SourceApp is non-nil only for ExternalProcedure definitions: the
	// interned name of the app that declared the object.
	SourceApp *Symbol

	Metrics      Metrics
	EventBinding *EventBinding
}

// ReceiverKind classifies how a call expression spelled its target, before
// resolution has matched it to a concrete definition.
type ReceiverKind int

const (
	ReceiverImplicit ReceiverKind = iota
	ReceiverObjectLiteral
	ReceiverVariableRef
	ReceiverRecordRef
)

// Receiver is the syntactic shape of a call's target. Name is the object
// name, variable name, or record-variable name; it is unused (zero) for
// ReceiverImplicit.
type Receiver struct {
	Kind ReceiverKind
	Name Symbol
}

// CallSite is one call expression found in source. Resolved starts nil and
// is filled in by the resolver; an unresolved site is still kept (it may
// resolve later as new definitions are added).
type CallSite struct {
	File     string
	Range    Range
	Caller   QualifiedName
	Receiver Receiver
	Callee   Symbol
	Resolved *QualifiedName
}

// ScopeKind distinguishes a variable declared at object (global) scope from
// one declared inside a single procedure.
type ScopeKind int

const (
	ScopeGlobal ScopeKind = iota
	ScopeLocal
)

// Scope is the owner a Variable is declared within: an object name for
// ScopeGlobal, or a procedure's QualifiedName.Procedure for ScopeLocal (the
// procedure's enclosing object is implied by the map it is stored under).
type Scope struct {
	Kind  ScopeKind
	Owner Symbol
}

// Variable is one declared variable, global or local. Target is the
// referenced object's name, meaningful when DeclaredType names an object
// kind (Codeunit, Page, Record, ...).
type Variable struct {
	Name         Symbol
	DeclaredType ObjectType
	Target       Symbol
	Scope        Scope
}
