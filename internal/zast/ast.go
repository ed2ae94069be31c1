// Package zast defines the Go shape of "the AST produced by the external
// parser" that spec.md §6 describes only by tag name. The preprocessor,
// tokenizer, and grammar that build this tree are out of scope (spec.md
// §1); this package exists only so the lowering passes have something
// concrete to walk. Values are decoded from a JSON document via
// encoding/json, the same plain-struct-plus-tags style the teacher uses
// for its own structured records (internal/logging/audit.go).
package zast

// Expr is a compile-time expression node. The grammar that turns source
// text into these nodes is external; this module only re-serializes or
// numerically evaluates what it's handed (spec.md §4.3).
type Expr struct {
	Kind string `json:"kind"` // number|string|format|ident|binary|unary|ternary|comma|paren|eval|call
	Text string `json:"text,omitempty"`
	Op   string `json:"op,omitempty"`
	Args []Expr `json:"args,omitempty"`
}

// Call is an action-call expression: a bare name plus positional arguments.
type Call struct {
	Name string `json:"name"`
	Args []Expr `json:"args,omitempty"`
}

// ActionBody is either a single call (the common case) or an inline
// sequence of calls, used by frame lowering's "last frame keeps the
// duration" rule (spec.md §4.5, Frames).
type ActionBody struct {
	Single *Call  `json:"single,omitempty"`
	Inline []Call `json:"inline,omitempty"`
}

// ArraySpec describes an abstract or concrete template array member.
type ArraySpec struct {
	ElemType string `json:"elem_type"`
	Size     int    `json:"size"` // meaningful only when !Any
	Any      bool   `json:"any"`  // true for a declared "any"-size array
}

// Stmt is one statement inside a label, macro, mod-effect, or apply body.
// Tag selects which fields are meaningful, mirroring the tag list in
// spec.md §6.
type Stmt struct {
	Tag string `json:"tag"`

	// frames
	Sprite       *Expr       `json:"sprite,omitempty"`
	FrameLetters string      `json:"frame_letters,omitempty"`
	Duration     *Expr       `json:"duration,omitempty"`
	Keywords     []string    `json:"keywords,omitempty"`
	Action       *ActionBody `json:"action,omitempty"`

	// flow: stop|wait|fail|loop|goto
	FlowKind string `json:"flow_kind,omitempty"`
	Label    string `json:"label,omitempty"`

	// repeat
	Count *Expr  `json:"count,omitempty"`
	Index string `json:"index,omitempty"`
	Body  []Stmt `json:"body,omitempty"`

	// if / ifjump / while / whilejump
	Cond       *Expr  `json:"cond,omitempty"`
	JumpAction *Call  `json:"jump_action,omitempty"`
	Then       []Stmt `json:"then,omitempty"`
	Else       []Stmt `json:"else,omitempty"`
	HasElse    bool   `json:"has_else,omitempty"`

	// sometimes
	Chance *Expr `json:"chance,omitempty"`

	// apply
	ModName string `json:"mod_name,omitempty"`

	// for
	ForName        string `json:"for_name,omitempty"`
	ForIndex       string `json:"for_index,omitempty"`
	ForMode        string `json:"for_mode,omitempty"` // "group"|"range"
	ForGroup       string `json:"for_group,omitempty"`
	RangeFrom      *Expr  `json:"range_from,omitempty"`
	RangeTo        *Expr  `json:"range_to,omitempty"`
	RangeInclusive bool   `json:"range_inclusive,omitempty"`

	// inject
	FromClass string `json:"from_class,omitempty"`
	MacroName string `json:"macro_name,omitempty"`
	Args      []Expr `json:"args,omitempty"`

	// Template and derivation bodies arrive as a flat Stmt stream rather
	// than a pre-bucketed ClassDecl (spec.md §4.4 step 6: the deferred
	// body-parse task only has ParseData+override statements to work
	// with). These fields let that stream carry class-body declarations
	// ("property", "flag", "unflag", "user var", "mod", "macro",
	// "verbatim" — spec.md §6) inline; "label" reuses Label (name) and
	// Body (statements) above, and "for"/"apply" at class-body scope
	// reuse the for/apply fields already declared for statement lowering.
	PropertyName  string       `json:"property_name,omitempty"`
	PropertyValue *Expr        `json:"property_value,omitempty"`
	FlagName      string       `json:"flag_name,omitempty"`
	UserVarDecl   *UserVarDecl `json:"user_var_decl,omitempty"`
	ModDecl       *ModDecl     `json:"mod_decl,omitempty"`
	MacroDecl     *MacroDecl   `json:"macro_decl,omitempty"`
	VerbatimText  string       `json:"verbatim_text,omitempty"`
}

// LabelDecl is a named, ordered sequence of statements inside a class body.
type LabelDecl struct {
	Name string `json:"name"`
	Body []Stmt `json:"body"`
}

// PropertyDecl is a single `property value;` class-body entry.
type PropertyDecl struct {
	Name  string `json:"name"`
	Value Expr   `json:"value"`
}

// UserVarDecl is a declared user variable (scalar or array).
type UserVarDecl struct {
	Name      string `json:"name"`
	ElemType  string `json:"elem_type"`
	ArraySize int    `json:"array_size"` // 0 = scalar
	Any       bool   `json:"any"`
	Init      *Expr  `json:"init,omitempty"`
}

// SelectorExpr is a modifier clause selector, per spec.md §4.6:
// flag(NAME) | sprite(NAME) | duration(N) | any, composed with ! && || ^^.
type SelectorExpr struct {
	Kind string         `json:"kind"` // flag|sprite|duration|any|not|and|or|xor
	Name string         `json:"name,omitempty"`
	N    int            `json:"n,omitempty"`
	Args []SelectorExpr `json:"args,omitempty"`
}

// EffectExpr is one modifier effect: +flag/-flag/prefix/suffix/manipulate.
type EffectExpr struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"` // flag name, or manipulate's macro name
	Body []Stmt `json:"body,omitempty"` // prefix/suffix/manipulate body
}

// ModClause is one selector/effects pair inside a named mod.
type ModClause struct {
	Selector SelectorExpr `json:"selector"`
	Effects  []EffectExpr `json:"effects"`
}

// ModDecl is a named modifier: an ordered list of clauses.
type ModDecl struct {
	Name    string      `json:"name"`
	Clauses []ModClause `json:"clauses"`
}

// MacroDecl is a named or anonymous macro: ordered parameters, statement body.
type MacroDecl struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
	Body   []Stmt   `json:"body"`
}

// GroupDecl is a named, ordered set of class-name literals.
type GroupDecl struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// ClassDecl is one `class`/`class<P>` declaration.
type ClassDecl struct {
	Name      string `json:"name"`
	Inherits  string `json:"inherits,omitempty"`
	Replaces  string `json:"replaces,omitempty"`
	EditorNum *int   `json:"editor_num,omitempty"`
	Group     string `json:"group,omitempty"`

	Properties  []PropertyDecl `json:"properties,omitempty"`
	Flags       []string       `json:"flags,omitempty"`
	AntiFlags   []string       `json:"anti_flags,omitempty"`
	UserVars    []UserVarDecl  `json:"user_vars,omitempty"`
	Labels      []LabelDecl    `json:"labels,omitempty"`
	Mods        []ModDecl      `json:"mods,omitempty"`
	Macros      []MacroDecl    `json:"macros,omitempty"`
	Verbatim    []string       `json:"verbatim,omitempty"`
	AppliedMods []string       `json:"applied_mods,omitempty"`

	IsTemplate     bool                 `json:"is_template,omitempty"`
	TemplateParams []string             `json:"template_params,omitempty"`
	AbstractLabels []string             `json:"abstract_labels,omitempty"`
	AbstractMacros map[string]int       `json:"abstract_macros,omitempty"`
	AbstractArrays map[string]ArraySpec `json:"abstract_arrays,omitempty"`

	HasFunctionKeyword bool `json:"has_function_keyword,omitempty"` // removed feature; always an error
}

// DerivationDecl is a `derive NAME as TEMPLATE::(args) { overrides }` entry.
type DerivationDecl struct {
	Name     string               `json:"name"`
	Template string               `json:"template"`
	Args     []Expr               `json:"args"`
	Labels   []LabelDecl          `json:"labels,omitempty"`
	Macros   []MacroDecl          `json:"macros,omitempty"`
	Arrays   map[string]ArraySpec `json:"arrays,omitempty"`
	Inherits string               `json:"inherits,omitempty"`
	Group    string               `json:"group,omitempty"`
}

// StaticFor is a top-level compile-time for-loop that expands into more
// top-level declarations before class registration (driver pass 2).
type StaticFor struct {
	Name           string           `json:"name"`
	ForMode        string           `json:"for_mode"` // "group"|"range"
	Group          string           `json:"group,omitempty"`
	From           *Expr            `json:"from,omitempty"`
	To             *Expr            `json:"to,omitempty"`
	RangeInclusive bool             `json:"range_inclusive,omitempty"`
	Index          string           `json:"index,omitempty"`
	Body           []StaticForEntry `json:"body"`
}

// StaticForEntry is one top-level declaration nested inside a StaticFor
// body. Kind selects which of the pointer fields is populated, mirroring
// the tagged-union-over-JSON shape every other zast node uses (spec.md
// §4.8 pass 2: "replacing each `for ...` entry with the flattened
// sequence of declarations it produces").
type StaticForEntry struct {
	Kind       string          `json:"kind"` // "class"|"derivation"|"static_for"
	Class      *ClassDecl      `json:"class,omitempty"`
	Derivation *DerivationDecl `json:"derivation,omitempty"`
	StaticFor  *StaticFor      `json:"static_for,omitempty"`
}

// Program is the top-level decoded document.
type Program struct {
	Groups      []GroupDecl      `json:"groups,omitempty"`
	Macros      []MacroDecl      `json:"macros,omitempty"`
	Templates   []ClassDecl      `json:"templates,omitempty"`
	Classes     []ClassDecl      `json:"classes,omitempty"`
	Derivations []DerivationDecl `json:"derivations,omitempty"`
	StaticFors  []StaticFor      `json:"static_fors,omitempty"`

	// Inventory carries verbatim inventory-item declarations (spec.md
	// §4.8 pass 8: "inventory declarations (if any) first"). The source
	// language's inventory-item grammar sits outside this module's
	// scope (spec.md §1), so these arrive pre-rendered as target text.
	Inventory []string `json:"inventory,omitempty"`
}
