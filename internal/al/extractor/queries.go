package extractor

// The four queries below drive every extraction pass. Each mirrors one
// concern of the grammar: procedure/trigger definitions together with the
// enclosing-object header, call expressions, event-subscriber attributes,
// and variable declarations. Keeping them as
// named tree-sitter queries (rather than a manual node-kind dispatch walk)
// means a grammar upgrade that only renames a field shows up as a single
// query edit instead of a scattered set of switch cases.

// definitionsQuery captures every procedure/trigger definition plus the
// object-declaration header each file may carry, across every AL object
// kind including the four extension kinds.
const definitionsQuery = `
(procedure
  name: (identifier) @proc.name) @proc.def

(trigger_declaration
  trigger_name: (identifier) @trigger.name) @trigger.def

(named_trigger) @named_trigger.def

(onrun_trigger) @onrun.def

(codeunit_declaration
  object_name: (_) @codeunit.name)

(preproc_split_codeunit_declaration
  object_name: (_) @codeunit.name)

(table_declaration
  object_name: (_) @table.name)

(page_declaration
  object_name: (_) @page.name)

(report_declaration
  object_name: (_) @report.name)

(query_declaration
  object_name: (_) @query.name)

(xmlport_declaration
  object_name: (_) @xmlport.name)

(enum_declaration
  object_name: (_) @enum.name)

(interface_declaration
  object_name: (_) @interface.name)

(controladdin_declaration
  object_name: (_) @controladdin.name)

(pageextension_declaration
  object_name: (_) @pageextension.name)

(tableextension_declaration
  object_name: (_) @tableextension.name)

(enumextension_declaration
  object_name: (_) @enumextension.name)

(permissionset_declaration
  object_name: (_) @permissionset.name)

(permissionsetextension_declaration
  object_name: (_) @permissionsetextension.name)
`

// callsQuery captures the three call shapes AL source actually uses: a bare
// identifier call, a qualified member-expression call, and record-field
// access (Rec.Validate-style).
const callsQuery = `
(call_expression
  function: (identifier) @call.method) @call.expr

(call_expression
  function: (member_expression
    object: (_) @call.object
    property: (_) @call.method)) @call.expr

(call_expression
  function: (field_access
    record: (_) @call.object
    field: (_) @call.method)) @call.expr
`

// eventSubscribersQuery captures procedures carrying an [EventSubscriber]
// attribute, along with the attribute's argument list, which holds the
// publisher object type/name and event name.
const eventSubscribersQuery = `
(procedure
  (attribute_item
    (attribute_content
      name: (identifier) @attr.name
      arguments: (attribute_arguments) @attr.args)
    (#eq? @attr.name "EventSubscriber"))
  name: (identifier) @sub.proc.name) @sub.def
`

// variablesQuery captures every variable declaration; name/type extraction
// from the matched node is done in extractVariables since the grammar's
// field shape varies between a single `name:` field and a `names:` list.
const variablesQuery = `
(variable_declaration) @var.decl
`
