// Package extractor walks AL source with tree-sitter queries and produces
// the syntactic facts the graph needs: object declarations, procedure and
// trigger definitions (with their size/complexity metrics already
// computed), call sites, event-subscriber bindings, and variable
// declarations.
package extractor

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/SShadowS/al-call-hierarchy/internal/al/model"
)

// recordLikeTypes are the variable-type prefixes parseTypeSpecification
// recognizes as naming an object (as opposed to a primitive type like
// Integer or Text, which never participate in call resolution).
var recordLikeTypes = []string{
	"Record", "Codeunit", "Page", "Report", "Query", "XmlPort", "Enum", "Interface",
}

// ParsedDefinition is one procedure, trigger, or named/onrun trigger found
// in a file, with metrics already computed from its body.
type ParsedDefinition struct {
	Kind         model.DefinitionKind
	Name         string
	Range        model.Range
	ParamCount   int
	LineCount    int
	Complexity   int
	EventBinding *ParsedEventBinding
}

// ParsedEventBinding is the [EventSubscriber] attribute's publisher/event
// arguments, extracted as raw identifier/string text — interning happens
// in the indexer, which already owns the graph's interner.
type ParsedEventBinding struct {
	PublisherObjectType string
	PublisherObject     string
	EventName           string
}

// ParsedCall is one call expression, with Object empty for an unqualified
// call.
type ParsedCall struct {
	Object              string
	Method              string
	Range               model.Range
	ContainingProcedure string
}

// ParsedVariable is one variable declaration.
type ParsedVariable struct {
	Name                string
	DeclaredType        string
	Target              string
	ContainingProcedure string // empty for a global (object-scope) variable
}

// Result is one file's complete extraction output. ObjectType/ObjectName
// are empty if the file declared no recognizable AL object header.
type Result struct {
	ObjectType string
	ObjectName string

	Definitions []ParsedDefinition
	Calls       []ParsedCall
	Variables   []ParsedVariable
}

// Parser wraps four compiled queries over a single grammar instance. It is
// not safe for concurrent use; the indexer's worker pool gives each
// goroutine its own Parser.
type Parser struct {
	language *sitter.Language

	sitterParser *sitter.Parser

	definitions      *sitter.Query
	calls            *sitter.Query
	eventSubscribers *sitter.Query
	variables        *sitter.Query

	cursor *sitter.QueryCursor
}

// NewParser compiles the AL queries against lang, which the caller loads
// from the grammar manifest (see internal/engine/parser/grammar).
func NewParser(lang *sitter.Language) (*Parser, error) {
	defs, err := sitter.NewQuery(lang, definitionsQuery)
	if err != nil {
		return nil, err
	}
	calls, err := sitter.NewQuery(lang, callsQuery)
	if err != nil {
		return nil, err
	}
	subs, err := sitter.NewQuery(lang, eventSubscribersQuery)
	if err != nil {
		return nil, err
	}
	vars, err := sitter.NewQuery(lang, variablesQuery)
	if err != nil {
		return nil, err
	}

	p := sitter.NewParser()
	if err := p.SetLanguage(lang); err != nil {
		return nil, err
	}

	return &Parser{
		language:         lang,
		sitterParser:     p,
		definitions:      defs,
		calls:            calls,
		eventSubscribers: subs,
		variables:        vars,
		cursor:           sitter.NewQueryCursor(),
	}, nil
}

// Close releases the underlying tree-sitter resources.
func (p *Parser) Close() {
	p.sitterParser.Close()
	p.definitions.Close()
	p.calls.Close()
	p.eventSubscribers.Close()
	p.variables.Close()
	p.cursor.Close()
}

// Parse extracts every fact the graph needs from source.
func (p *Parser) Parse(source []byte) (*Result, error) {
	tree := p.sitterParser.Parse(source, nil)
	if tree == nil {
		return nil, errParseFailed
	}
	defer tree.Close()
	root := tree.RootNode()

	res := &Result{}
	eventBindings := p.extractEventBindings(root, source)
	res.Definitions = p.extractDefinitions(root, source, eventBindings, res)
	res.Calls = p.extractCalls(root, source)
	res.Variables = p.extractVariables(root, source)
	return res, nil
}

var errParseFailed = parseError("tree-sitter returned no tree")

type parseError string

func (e parseError) Error() string { return string(e) }

func (p *Parser) extractDefinitions(root *sitter.Node, source []byte, eventBindings map[model.Range]*ParsedEventBinding, res *Result) []ParsedDefinition {
	var out []ParsedDefinition

	matches := p.cursor.Matches(p.definitions, root, source)
	names := p.definitions.CaptureNames()
	for {
		m := matches.Next()
		if m == nil {
			break
		}
		for _, cap := range m.Captures {
			name := names[cap.Index]
			node := &cap.Node

			switch {
			case strings.HasSuffix(name, ".name") && isObjectCapture(name):
				if res.ObjectType == "" {
					res.ObjectType = objectCaptureType(name)
					res.ObjectName = cleanName(nodeText(node, source))
				}

			case name == "proc.name":
				parent := node.Parent()
				if parent == nil {
					continue
				}
				out = append(out, p.buildProcedureDefinition(parent, node, source, eventBindings))

			case name == "trigger.name":
				parent := node.Parent()
				if parent == nil {
					continue
				}
				out = append(out, ParsedDefinition{
					Kind:       model.DefinitionKindTrigger,
					Name:       cleanName(nodeText(node, source)),
					Range:      nodeRange(parent),
					ParamCount: countParams(parent),
					LineCount:  lineCount(parent),
					Complexity: calculateComplexity(parent),
				})

			case name == "named_trigger.def":
				triggerName := extractTriggerName(node, source)
				out = append(out, ParsedDefinition{
					Kind:       model.DefinitionKindTrigger,
					Name:       triggerName,
					Range:      nodeRange(node),
					ParamCount: countParams(node),
					LineCount:  lineCount(node),
					Complexity: calculateComplexity(node),
				})

			case name == "onrun.def":
				out = append(out, ParsedDefinition{
					Kind:       model.DefinitionKindTrigger,
					Name:       "OnRun",
					Range:      nodeRange(node),
					ParamCount: 0,
					LineCount:  lineCount(node),
					Complexity: calculateComplexity(node),
				})
			}
		}
	}
	return out
}

func (p *Parser) buildProcedureDefinition(procNode, nameNode *sitter.Node, source []byte, eventBindings map[model.Range]*ParsedEventBinding) ParsedDefinition {
	r := nodeRange(procNode)
	d := ParsedDefinition{
		Kind:       model.DefinitionKindProcedure,
		Name:       cleanName(nodeText(nameNode, source)),
		Range:      r,
		ParamCount: countParams(procNode),
		LineCount:  lineCount(procNode),
		Complexity: calculateComplexity(procNode),
	}
	if eb, ok := eventBindings[r]; ok {
		d.Kind = model.DefinitionKindEventSubscriber
		d.EventBinding = eb
	}
	return d
}

func (p *Parser) extractEventBindings(root *sitter.Node, source []byte) map[model.Range]*ParsedEventBinding {
	out := make(map[model.Range]*ParsedEventBinding)

	matches := p.cursor.Matches(p.eventSubscribers, root, source)
	names := p.eventSubscribers.CaptureNames()
	for {
		m := matches.Next()
		if m == nil {
			break
		}
		var defNode *sitter.Node
		var argsText string
		for _, cap := range m.Captures {
			switch names[cap.Index] {
			case "sub.def":
				n := cap.Node
				defNode = &n
			case "attr.args":
				argsText = nodeText(&cap.Node, source)
			}
		}
		if defNode == nil {
			continue
		}
		if eb, ok := parseEventBindingArgs(argsText); ok {
			out[nodeRange(defNode)] = eb
		}
	}
	return out
}

// parseEventBindingArgs parses the top-level comma-separated arguments of
// an [EventSubscriber(ObjectType::Codeunit, Codeunit::"Pub", 'OnAfterX', ...)]
// attribute: the first argument names the publisher's object type, the
// second its name, the third the event name.
func parseEventBindingArgs(argsText string) (*ParsedEventBinding, bool) {
	args := splitTopLevelArgs(argsText)
	if len(args) < 3 {
		return nil, false
	}
	pubType := afterDoubleColon(args[0])
	pubObject := cleanName(afterDoubleColon(args[1]))
	eventName := cleanName(args[2])
	if pubType == "" || pubObject == "" || eventName == "" {
		return nil, false
	}
	return &ParsedEventBinding{
		PublisherObjectType: pubType,
		PublisherObject:     pubObject,
		EventName:           eventName,
	}, true
}

func afterDoubleColon(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndex(s, "::"); idx >= 0 {
		return strings.TrimSpace(s[idx+2:])
	}
	return s
}

// splitTopLevelArgs splits a parenthesized or bare argument list on commas
// that are not nested inside parens or quotes.
func splitTopLevelArgs(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")

	var args []string
	depth := 0
	inQuote := byte(0)
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			args = append(args, s[start:i])
			start = i + 1
		}
	}
	args = append(args, s[start:])
	return args
}

func (p *Parser) extractCalls(root *sitter.Node, source []byte) []ParsedCall {
	var out []ParsedCall

	matches := p.cursor.Matches(p.calls, root, source)
	names := p.calls.CaptureNames()
	for {
		m := matches.Next()
		if m == nil {
			break
		}
		var object, method string
		var exprNode *sitter.Node
		for _, cap := range m.Captures {
			n := cap.Node
			switch names[cap.Index] {
			case "call.object":
				object = nodeText(&n, source)
			case "call.method":
				method = nodeText(&n, source)
			case "call.expr":
				exprNode = &n
			}
		}
		if method == "" || exprNode == nil {
			continue
		}
		out = append(out, ParsedCall{
			Object:              cleanName(object),
			Method:              cleanName(method),
			Range:               nodeRange(exprNode),
			ContainingProcedure: findContainingProcedure(exprNode, source),
		})
	}
	return out
}

func (p *Parser) extractVariables(root *sitter.Node, source []byte) []ParsedVariable {
	var out []ParsedVariable

	matches := p.cursor.Matches(p.variables, root, source)
	for {
		m := matches.Next()
		if m == nil {
			break
		}
		for _, cap := range m.Captures {
			node := &cap.Node
			name := extractVarName(node, source)
			typeText := extractVarType(node, source)
			if name == "" || typeText == "" {
				continue
			}
			typeName, target, ok := parseTypeSpecification(typeText)
			if !ok {
				continue
			}
			out = append(out, ParsedVariable{
				Name:                name,
				DeclaredType:        typeName,
				Target:              target,
				ContainingProcedure: findContainingProcedure(node, source),
			})
		}
	}
	return out
}

// extractVarName tries a `name` field first, then the first identifier
// child of a `names` field (AL allows comma-separated declarations sharing
// one type), then falls back to the first identifier/quoted_identifier
// child of the node itself.
func extractVarName(node *sitter.Node, source []byte) string {
	if n := node.ChildByFieldName("name"); n != nil {
		return cleanName(nodeText(n, source))
	}
	if n := node.ChildByFieldName("names"); n != nil {
		for i := uint(0); i < n.ChildCount(); i++ {
			c := n.Child(i)
			if c == nil {
				continue
			}
			if c.Kind() == "identifier" || c.Kind() == "quoted_identifier" {
				return cleanName(nodeText(c, source))
			}
		}
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		c := node.Child(i)
		if c == nil {
			continue
		}
		if c.Kind() == "identifier" || c.Kind() == "quoted_identifier" {
			return cleanName(nodeText(c, source))
		}
	}
	return ""
}

// extractVarType tries a `type` field, then scans children for a
// type_specification/basic_type node.
func extractVarType(node *sitter.Node, source []byte) string {
	if n := node.ChildByFieldName("type"); n != nil {
		return nodeText(n, source)
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		c := node.Child(i)
		if c == nil {
			continue
		}
		if c.Kind() == "type_specification" || c.Kind() == "basic_type" {
			return nodeText(c, source)
		}
	}
	return ""
}

// parseTypeSpecification checks text against the recognized object-typed
// prefixes and extracts the quoted-or-bare name that follows. Returns
// ok=false for primitive types (Integer, Text, Boolean, ...), which never
// participate in call resolution.
func parseTypeSpecification(text string) (typeName, target string, ok bool) {
	text = strings.TrimSpace(text)
	for _, prefix := range recordLikeTypes {
		if !strings.HasPrefix(text, prefix) {
			continue
		}
		rest := strings.TrimSpace(text[len(prefix):])
		rest = strings.TrimPrefix(rest, ".")
		return prefix, cleanName(rest), true
	}
	return "", "", false
}

// findContainingProcedure walks up from node looking for an enclosing
// procedure, trigger_declaration, named_trigger, or onrun_trigger, per the
// same naming rules extractDefinitions uses.
func findContainingProcedure(node *sitter.Node, source []byte) string {
	for n := node.Parent(); n != nil; n = n.Parent() {
		switch n.Kind() {
		case "procedure":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				return cleanName(nodeText(nameNode, source))
			}
		case "trigger_declaration":
			if nameNode := n.ChildByFieldName("trigger_name"); nameNode != nil {
				return cleanName(nodeText(nameNode, source))
			}
		case "named_trigger", "onrun_trigger":
			return extractTriggerName(n, source)
		}
	}
	return ""
}

func extractTriggerName(node *sitter.Node, source []byte) string {
	if node.Kind() == "onrun_trigger" {
		return "OnRun"
	}
	text := nodeText(node, source)
	if idx := strings.Index(text, "("); idx >= 0 {
		text = text[:idx]
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return cleanName(text)
	}
	return cleanName(fields[len(fields)-1])
}

func countParams(procNode *sitter.Node) int {
	params := procNode.ChildByFieldName("parameters")
	if params == nil {
		return 0
	}
	n := 0
	for i := uint(0); i < params.ChildCount(); i++ {
		c := params.Child(i)
		if c != nil && c.Kind() == "parameter" {
			n++
		}
	}
	return n
}

func lineCount(node *sitter.Node) int {
	r := nodeRange(node)
	return int(r.End.Line-r.Start.Line) + 1
}

func nodeRange(node *sitter.Node) model.Range {
	start := node.StartPosition()
	end := node.EndPosition()
	return model.Range{
		Start: model.Position{Line: uint32(start.Row), Character: uint32(start.Column)},
		End:   model.Position{Line: uint32(end.Row), Character: uint32(end.Column)},
	}
}

func nodeText(node *sitter.Node, source []byte) string {
	return node.Utf8Text(source)
}

// cleanName trims whitespace and strips the quote characters AL uses for
// identifiers containing spaces (`"My Codeunit"`) or event names (`'OnX'`).
func cleanName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

func isObjectCapture(name string) bool {
	switch {
	case strings.HasPrefix(name, "codeunit."),
		strings.HasPrefix(name, "table."),
		strings.HasPrefix(name, "page."),
		strings.HasPrefix(name, "report."),
		strings.HasPrefix(name, "query."),
		strings.HasPrefix(name, "xmlport."),
		strings.HasPrefix(name, "enum."),
		strings.HasPrefix(name, "interface."),
		strings.HasPrefix(name, "controladdin."),
		strings.HasPrefix(name, "pageextension."),
		strings.HasPrefix(name, "tableextension."),
		strings.HasPrefix(name, "enumextension."),
		strings.HasPrefix(name, "permissionset."),
		strings.HasPrefix(name, "permissionsetextension."):
		return true
	default:
		return false
	}
}

func objectCaptureType(captureName string) string {
	prefix := strings.SplitN(captureName, ".", 2)[0]
	switch prefix {
	case "codeunit":
		return "Codeunit"
	case "table":
		return "Table"
	case "page":
		return "Page"
	case "report":
		return "Report"
	case "query":
		return "Query"
	case "xmlport":
		return "XmlPort"
	case "enum":
		return "Enum"
	case "interface":
		return "Interface"
	case "controladdin":
		return "ControlAddIn"
	case "pageextension":
		return "PageExtension"
	case "tableextension":
		return "TableExtension"
	case "enumextension":
		return "EnumExtension"
	case "permissionset":
		return "PermissionSet"
	case "permissionsetextension":
		return "PermissionSetExtension"
	default:
		return ""
	}
}

// calculateComplexity walks node's subtree, counting branching constructs:
// base 1; +1 per if_statement (plus another +1 if it has an else_branch);
// +1 per loop construct; +1 per case_branch (never case_else_branch); +1
// per and/or operator in a logical_expression (xor never counts).
func calculateComplexity(node *sitter.Node) int {
	complexity := 1
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		switch n.Kind() {
		case "if_statement":
			complexity++
			if n.ChildByFieldName("else_branch") != nil {
				complexity++
			}
		case "while_statement", "for_statement", "foreach_statement", "repeat_statement":
			complexity++
		case "case_branch":
			complexity++
		case "logical_expression":
			if op := n.ChildByFieldName("operator"); op != nil {
				switch strings.ToLower(op.Kind()) {
				case "and", "or":
					complexity++
				}
			}
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
	return complexity
}
