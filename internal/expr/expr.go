// Package expr evaluates the `if:` condition mini-language of workflow
// files. Conditions are parsed into a real expression AST with hclsyntax,
// so boolean composition like `success() && !cancelled()` is handled by the
// expression grammar rather than string matching.
//
// The recognized functions close over a snapshot of dependency outcomes:
//
//	always()    true unconditionally
//	success()   true iff every dependency succeeded (and none was cancelled)
//	failure()   true iff at least one dependency failed
//	cancelled() true iff at least one dependency was cancelled
//
// Unknown function names and variable references fail with
// ErrUnsupportedExpression instead of silently evaluating to false, so a
// misspelled condition surfaces as an error rather than a skipped job.
package expr

import (
	"errors"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// ErrUnsupportedExpression marks a condition the engine cannot evaluate:
// an unknown function, a variable reference, or a non-boolean result.
var ErrUnsupportedExpression = errors.New("unsupported expression")

// DefaultCondition is the implicit condition of a job or step without an
// `if:` attribute.
const DefaultCondition = "success()"

// Outcome is the snapshot of dependency results a condition is evaluated
// against. It is assembled by the caller from terminal run records only, so
// evaluation is pure and never blocks.
type Outcome struct {
	AllSucceeded bool
	AnyFailed    bool
	AnyCancelled bool
}

// knownFunctions lists the condition functions the engine recognizes.
// Validation consults this set before evaluation so that an unknown name is
// reported by name instead of surfacing as an opaque HCL diagnostic.
var knownFunctions = map[string]struct{}{
	"always":    {},
	"success":   {},
	"failure":   {},
	"cancelled": {},
}

// Eval parses and evaluates a condition against the given outcome snapshot.
// An empty condition evaluates as DefaultCondition.
func Eval(condition string, outcome Outcome) (bool, error) {
	expr, err := Compile(condition)
	if err != nil {
		return false, err
	}
	return expr.Eval(outcome)
}

// Condition is a parsed, reusable condition expression.
type Condition struct {
	src  string
	expr hclsyntax.Expression
}

// Compile parses a condition string and validates that it only references
// known functions and no variables.
func Compile(condition string) (*Condition, error) {
	src := condition
	if src == "" {
		src = DefaultCondition
	}

	parsed, diags := hclsyntax.ParseExpression([]byte(src), "if", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: cannot parse %q: %s", ErrUnsupportedExpression, src, diags.Error())
	}

	if len(parsed.Variables()) > 0 {
		ref := parsed.Variables()[0].RootName()
		return nil, fmt.Errorf("%w: variable reference %q in %q", ErrUnsupportedExpression, ref, src)
	}

	calls := map[string]struct{}{}
	collectFunctionCalls(parsed, calls)
	for name := range calls {
		if _, ok := knownFunctions[name]; !ok {
			return nil, fmt.Errorf("%w: unknown function %q in %q", ErrUnsupportedExpression, name, src)
		}
	}

	return &Condition{src: src, expr: parsed}, nil
}

// String returns the condition source.
func (c *Condition) String() string { return c.src }

// Eval evaluates the compiled condition against an outcome snapshot.
func (c *Condition) Eval(outcome Outcome) (bool, error) {
	evalCtx := &hcl.EvalContext{
		Functions: map[string]function.Function{
			"always":    constBoolFunc(true),
			"success":   constBoolFunc(outcome.AllSucceeded),
			"failure":   constBoolFunc(outcome.AnyFailed),
			"cancelled": constBoolFunc(outcome.AnyCancelled),
		},
	}

	val, diags := c.expr.Value(evalCtx)
	if diags.HasErrors() {
		return false, fmt.Errorf("%w: evaluating %q: %s", ErrUnsupportedExpression, c.src, diags.Error())
	}
	if val.Type() != cty.Bool {
		return false, fmt.Errorf("%w: %q is not a boolean expression (got %s)", ErrUnsupportedExpression, c.src, val.Type().FriendlyName())
	}
	return val.True(), nil
}

// constBoolFunc builds a zero-argument cty function returning a fixed bool.
func constBoolFunc(result bool) function.Function {
	return function.New(&function.Spec{
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			return cty.BoolVal(result), nil
		},
	})
}

// collectFunctionCalls walks the expression AST gathering every function
// call name, including calls nested inside boolean operators.
func collectFunctionCalls(expr hclsyntax.Expression, names map[string]struct{}) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		names[e.Name] = struct{}{}
		for _, arg := range e.Args {
			collectFunctionCalls(arg, names)
		}
	case *hclsyntax.BinaryOpExpr:
		collectFunctionCalls(e.LHS, names)
		collectFunctionCalls(e.RHS, names)
	case *hclsyntax.UnaryOpExpr:
		collectFunctionCalls(e.Val, names)
	case *hclsyntax.ConditionalExpr:
		collectFunctionCalls(e.Condition, names)
		collectFunctionCalls(e.TrueResult, names)
		collectFunctionCalls(e.FalseResult, names)
	case *hclsyntax.ParenthesesExpr:
		collectFunctionCalls(e.Expression, names)
	case *hclsyntax.TemplateExpr:
		for _, part := range e.Parts {
			collectFunctionCalls(part, names)
		}
	case *hclsyntax.TemplateWrapExpr:
		collectFunctionCalls(e.Wrapped, names)
	}
}
