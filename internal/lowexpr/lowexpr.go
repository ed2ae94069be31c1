// Package lowexpr lowers compile-time expressions and parameters (C3):
// textual re-serialization of source expressions into target-text infix
// syntax, a compile-time numeric evaluator for `eval` nodes, and
// anonymous class/macro lowering (spec.md §4.3). The tree-walking shape
// follows the teacher's own term/atom walkers in internal/mangle
// (internal/mangle/grammar.go) — no new tokenizing, just re-serialize or
// numerically fold an already-parsed node tree.
package lowexpr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"zdcode-core/internal/actor"
	"zdcode-core/internal/idgen"
	"zdcode-core/internal/pctx"
	"zdcode-core/internal/zast"
)

// Resolver is the minimal pctx.Context surface expression lowering needs,
// kept narrow so this package doesn't have to import the whole Context
// API surface.
type Resolver interface {
	Resolve(name, roleDescription string) (string, error)
}

// Render re-serializes expr as target-text infix syntax, substituting
// identifiers through resolver and recursively rendering eval nodes to
// their folded numeric text (spec.md §4.3).
func Render(expr zast.Expr, resolver Resolver) (string, error) {
	switch expr.Kind {
	case "number":
		return expr.Text, nil
	case "string":
		return canonicalRequote(expr.Text), nil
	case "format":
		return renderFormat(expr, resolver)
	case "ident":
		return resolver.Resolve(expr.Text, "identifier")
	case "paren":
		if len(expr.Args) != 1 {
			return "", fmt.Errorf("lowexpr: paren node needs exactly one operand")
		}
		inner, err := Render(expr.Args[0], resolver)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	case "unary":
		if len(expr.Args) != 1 {
			return "", fmt.Errorf("lowexpr: unary %q needs exactly one operand", expr.Op)
		}
		operand, err := Render(expr.Args[0], resolver)
		if err != nil {
			return "", err
		}
		return expr.Op + operand, nil
	case "binary":
		if len(expr.Args) != 2 {
			return "", fmt.Errorf("lowexpr: binary %q needs exactly two operands", expr.Op)
		}
		lhs, err := Render(expr.Args[0], resolver)
		if err != nil {
			return "", err
		}
		rhs, err := Render(expr.Args[1], resolver)
		if err != nil {
			return "", err
		}
		return lhs + " " + expr.Op + " " + rhs, nil
	case "ternary":
		if len(expr.Args) != 3 {
			return "", fmt.Errorf("lowexpr: ternary needs exactly three operands")
		}
		cond, err := Render(expr.Args[0], resolver)
		if err != nil {
			return "", err
		}
		whenTrue, err := Render(expr.Args[1], resolver)
		if err != nil {
			return "", err
		}
		whenFalse, err := Render(expr.Args[2], resolver)
		if err != nil {
			return "", err
		}
		return cond + " ? " + whenTrue + " : " + whenFalse, nil
	case "comma":
		if len(expr.Args) != 2 {
			return "", fmt.Errorf("lowexpr: comma needs exactly two operands")
		}
		lhs, err := Render(expr.Args[0], resolver)
		if err != nil {
			return "", err
		}
		rhs, err := Render(expr.Args[1], resolver)
		if err != nil {
			return "", err
		}
		return lhs + ", " + rhs, nil
	case "eval":
		if len(expr.Args) != 1 {
			return "", fmt.Errorf("lowexpr: eval node needs exactly one operand")
		}
		v, err := Eval(expr.Args[0])
		if err != nil {
			return "", err
		}
		return v.String(), nil
	default:
		return "", fmt.Errorf("lowexpr: unrecognized expression kind %q", expr.Kind)
	}
}

// canonicalRequote re-quotes a string literal's text canonically: strip
// any existing surrounding quotes, then wrap in double quotes. The
// grammar's exact escaping rules are out of scope; this just normalizes
// the common "already-quoted" shape the AST hands over.
func canonicalRequote(text string) string {
	trimmed := strings.Trim(text, `"`)
	return `"` + trimmed + `"`
}

// renderFormat evaluates a format-string node to its concatenated text
// at compile time (spec.md §4.3: "a format string is evaluated to its
// concatenated text now, at compile time"). Each arg is rendered in turn
// and joined without separators; any arg that resolves to a quoted
// string literal has its quotes stripped before concatenation.
func renderFormat(expr zast.Expr, resolver Resolver) (string, error) {
	var b strings.Builder
	for _, part := range expr.Args {
		rendered, err := Render(part, resolver)
		if err != nil {
			return "", err
		}
		b.WriteString(strings.Trim(rendered, `"`))
	}
	return canonicalRequote(b.String()), nil
}

// Value is a compile-time numeric result: either an int or a float,
// preserved per spec.md §4.3 ("int literals stay int until a float
// operand is mixed in").
type Value struct {
	IsFloat bool
	I       int64
	F       float64
}

func intVal(i int64) Value    { return Value{I: i} }
func floatVal(f float64) Value { return Value{IsFloat: true, F: f} }

func (v Value) asFloat() float64 {
	if v.IsFloat {
		return v.F
	}
	return float64(v.I)
}

func (v Value) String() string {
	if v.IsFloat {
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	}
	return strconv.FormatInt(v.I, 10)
}

// Eval interprets a numeric `eval` expression tree at compile time
// (spec.md §4.3).
func Eval(expr zast.Expr) (Value, error) {
	switch expr.Kind {
	case "number":
		return parseNumber(expr.Text)
	case "paren":
		if len(expr.Args) != 1 {
			return Value{}, fmt.Errorf("lowexpr: eval paren needs one operand")
		}
		return Eval(expr.Args[0])
	case "unary":
		return evalUnary(expr)
	case "binary":
		return evalBinary(expr)
	case "ternary":
		if len(expr.Args) != 3 {
			return Value{}, fmt.Errorf("lowexpr: eval ternary needs three operands")
		}
		cond, err := Eval(expr.Args[0])
		if err != nil {
			return Value{}, err
		}
		if cond.asFloat() != 0 {
			return Eval(expr.Args[1])
		}
		return Eval(expr.Args[2])
	case "comma":
		if len(expr.Args) != 2 {
			return Value{}, fmt.Errorf("lowexpr: eval comma needs two operands")
		}
		if _, err := Eval(expr.Args[0]); err != nil {
			return Value{}, err
		}
		return Eval(expr.Args[1])
	default:
		return Value{}, fmt.Errorf("lowexpr: %q is not a valid eval node", expr.Kind)
	}
}

func parseNumber(text string) (Value, error) {
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return intVal(i), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Value{}, fmt.Errorf("lowexpr: invalid numeric literal %q: %w", text, err)
	}
	return floatVal(f), nil
}

var unaryFuncs = map[string]func(float64) float64{
	"round": math.Trunc, // spec.md §4.3: truncates toward zero, like Python's int()
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
}

func evalUnary(expr zast.Expr) (Value, error) {
	if len(expr.Args) != 1 {
		return Value{}, fmt.Errorf("lowexpr: eval unary %q needs one operand", expr.Op)
	}
	operand, err := Eval(expr.Args[0])
	if err != nil {
		return Value{}, err
	}
	switch expr.Op {
	case "+":
		return operand, nil
	case "-":
		if operand.IsFloat {
			return floatVal(-operand.F), nil
		}
		return intVal(-operand.I), nil
	case "pi":
		// "pi" acts as multiplication by π (spec.md §4.3).
		return floatVal(operand.asFloat() * math.Pi), nil
	default:
		if fn, ok := unaryFuncs[expr.Op]; ok {
			return floatVal(fn(operand.asFloat())), nil
		}
		return Value{}, fmt.Errorf("lowexpr: unknown eval unary operator %q", expr.Op)
	}
}

func evalBinary(expr zast.Expr) (Value, error) {
	if len(expr.Args) != 2 {
		return Value{}, fmt.Errorf("lowexpr: eval binary %q needs two operands", expr.Op)
	}
	lhs, err := Eval(expr.Args[0])
	if err != nil {
		return Value{}, err
	}
	rhs, err := Eval(expr.Args[1])
	if err != nil {
		return Value{}, err
	}
	bothInt := !lhs.IsFloat && !rhs.IsFloat

	switch expr.Op {
	case "+":
		if bothInt {
			return intVal(lhs.I + rhs.I), nil
		}
		return floatVal(lhs.asFloat() + rhs.asFloat()), nil
	case "-":
		if bothInt {
			return intVal(lhs.I - rhs.I), nil
		}
		return floatVal(lhs.asFloat() - rhs.asFloat()), nil
	case "*":
		if bothInt {
			return intVal(lhs.I * rhs.I), nil
		}
		return floatVal(lhs.asFloat() * rhs.asFloat()), nil
	case "/":
		if bothInt {
			if rhs.I == 0 {
				return Value{}, fmt.Errorf("lowexpr: division by zero")
			}
			return floatVal(float64(lhs.I) / float64(rhs.I)), nil
		}
		return floatVal(lhs.asFloat() / rhs.asFloat()), nil
	case "//":
		if rhs.asFloat() == 0 {
			return Value{}, fmt.Errorf("lowexpr: floor-division by zero")
		}
		if bothInt {
			return intVal(floorDivInt(lhs.I, rhs.I)), nil
		}
		return floatVal(math.Floor(lhs.asFloat() / rhs.asFloat())), nil
	case "%":
		if bothInt {
			if rhs.I == 0 {
				return Value{}, fmt.Errorf("lowexpr: modulo by zero")
			}
			return intVal(floorModInt(lhs.I, rhs.I)), nil
		}
		return floatVal(floorModFloat(lhs.asFloat(), rhs.asFloat())), nil
	case ">>":
		return intVal(lhs.I >> uint(rhs.I)), nil
	case "<<":
		return intVal(lhs.I << uint(rhs.I)), nil
	case "&":
		return intVal(lhs.I & rhs.I), nil
	case "|":
		return intVal(lhs.I | rhs.I), nil
	case "^":
		return intVal(lhs.I ^ rhs.I), nil
	case "&&":
		return boolVal(lhs.asFloat() != 0 && rhs.asFloat() != 0), nil
	case "||":
		return boolVal(lhs.asFloat() != 0 || rhs.asFloat() != 0), nil
	case "^^":
		return boolVal((lhs.asFloat() != 0) != (rhs.asFloat() != 0)), nil
	default:
		return Value{}, fmt.Errorf("lowexpr: unknown eval binary operator %q", expr.Op)
	}
}

// floorDivInt implements `//` for two ints as mathematical floor division
// (rounds toward negative infinity), unlike Go's truncating `/`.
func floorDivInt(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// floorModInt matches Python's %: the result takes the sign of the
// divisor, not the dividend (spec.md §4.3).
func floorModInt(a, b int64) int64 {
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

func floorModFloat(a, b float64) float64 {
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

func boolVal(b bool) Value {
	if b {
		return intVal(1)
	}
	return intVal(0)
}

// LowerAnonymousClass creates a fresh actor named per idgen's
// "_AnonymClass_<programId>_<N>" scheme, registers it in the shared
// table, and returns its canonically quoted name (spec.md §4.3). Parsing
// the class body is the caller's responsibility (it mirrors any other
// freshly-created actor's deferred-body-parse task, per C4/C8).
func LowerAnonymousClass(gen idgen.Generator, table *actor.Table) (*actor.Actor, string, error) {
	name := gen.AnonClassName()
	a := &actor.Actor{Name: name}
	if err := table.Register(a); err != nil {
		return nil, "", err
	}
	return a, `"` + name + `"`, nil
}

// LowerAnonymousMacro registers an anonymous macro under a generated
// "ANONYMMACRO_<programId>_<N>" name in ctx's own layer and returns the
// quoted name (spec.md §4.3).
func LowerAnonymousMacro(gen idgen.Generator, ctx *pctx.Context, macro *zast.MacroDecl) string {
	name := gen.AnonMacroName()
	ctx.SetMacro(name, macro)
	return `"` + name + `"`
}
