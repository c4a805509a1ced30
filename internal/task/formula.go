package task

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/measgrid/internal/config"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// KindFormula is the kind of a task computing entries from expressions.
const KindFormula = "FormulaTask"

var formulaFunctions = map[string]function.Function{
	"abs":    stdlib.AbsoluteFunc,
	"ceil":   stdlib.CeilFunc,
	"floor":  stdlib.FloorFunc,
	"log":    stdlib.LogFunc,
	"max":    stdlib.MaxFunc,
	"min":    stdlib.MinFunc,
	"pow":    stdlib.PowFunc,
	"signum": stdlib.SignumFunc,
	"format": stdlib.FormatFunc,
}

// ParseFormula parses an expression in HCL syntax.
func ParseFormula(name, src string) (hclsyntax.Expression, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), name, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid formula %q: %w", src, diags)
	}
	return expr, nil
}

// EvalFormula evaluates src for t. Variables are entry names looked up from
// the node of t.
func EvalFormula(rt *Runtime, t Task, src string) (cty.Value, error) {
	expr, err := ParseFormula(t.Name(), src)
	if err != nil {
		return cty.NilVal, err
	}
	vars, err := formulaVariables(rt, t, expr, nil)
	if err != nil {
		return cty.NilVal, err
	}
	return evalExpression(expr, src, vars)
}

// formulaVariables looks up the entries referenced by expr. Names present
// in bound are kept as they are.
func formulaVariables(rt *Runtime, t Task, expr hclsyntax.Expression, bound map[string]cty.Value) (map[string]cty.Value, error) {
	vars := maps.Clone(bound)
	if vars == nil {
		vars = make(map[string]cty.Value)
	}
	for _, traversal := range expr.Variables() {
		name := traversal.RootName()
		if _, done := vars[name]; done {
			continue
		}
		v, err := rt.DB.Lookup(t.Path(), name)
		if err != nil {
			return nil, err
		}
		cv, err := config.CtyValue(v)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", name, err)
		}
		vars[name] = cv
	}
	return vars, nil
}

func evalExpression(expr hclsyntax.Expression, src string, vars map[string]cty.Value) (cty.Value, error) {
	val, diags := expr.Value(&hcl.EvalContext{Variables: vars, Functions: formulaFunctions})
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("evaluating %q: %w", src, diags)
	}
	return val, nil
}

// CheckFormula verifies that src parses and only references names visible
// from t.
func CheckFormula(rt *Runtime, t Task, src string) error {
	return checkFormula(rt, t, src)
}

// checkFormula is CheckFormula with extra names the caller binds itself.
func checkFormula(rt *Runtime, t Task, src string, bound ...string) error {
	expr, err := ParseFormula(t.Name(), src)
	if err != nil {
		return err
	}
	if rt == nil || rt.DB == nil || t.Path() == "" {
		return nil
	}
	visible := append(rt.DB.ListAccessible(t.Path()), bound...)
	for _, traversal := range expr.Variables() {
		if !slices.Contains(visible, traversal.RootName()) {
			return fmt.Errorf("formula %q references unknown entry %q", src, traversal.RootName())
		}
	}
	return nil
}

type formulaParams struct {
	Formulas map[string]string `cty:"formulas"`
}

// FormulaTask evaluates one expression per declared entry and stores the
// results. Expressions run in the order of their entry names.
type FormulaTask struct {
	SimpleTask
	params formulaParams
}

// NewFormulaTask returns a detached FormulaTask.
func NewFormulaTask(name string, formulas map[string]string) *FormulaTask {
	f := &FormulaTask{params: formulaParams{Formulas: maps.Clone(formulas)}}
	entries := make(map[string]any, len(formulas))
	for entry := range formulas {
		entries[entry] = 0.0
	}
	f.Init(KindFormula, name, entries, &f.params)
	return f
}

// NewFormulaFactory builds FormulaTasks from their configuration.
func NewFormulaFactory(cfg *config.Task) (Task, error) {
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	var p formulaParams
	if err := config.DecodeAttributes(cfg.Attributes, &p); err != nil {
		return nil, fmt.Errorf("%s %q: %w", KindFormula, cfg.Name, err)
	}
	return NewFormulaTask(cfg.Name, p.Formulas), nil
}

func (f *FormulaTask) Check(_ context.Context, rt *Runtime) (bool, map[string]string) {
	report := make(map[string]string)
	for _, entry := range slices.Sorted(maps.Keys(f.params.Formulas)) {
		if err := CheckFormula(rt, f, f.params.Formulas[entry]); err != nil {
			report[ReportKey(f, entry)] = err.Error()
		}
	}
	return len(report) == 0, report
}

func (f *FormulaTask) Perform(_ context.Context, rt *Runtime) error {
	for _, entry := range slices.Sorted(maps.Keys(f.params.Formulas)) {
		val, err := EvalFormula(rt, f, f.params.Formulas[entry])
		if err != nil {
			return err
		}
		v, err := config.GoValue(val)
		if err != nil {
			return fmt.Errorf("entry %q: %w", entry, err)
		}
		if err := f.Write(rt, entry, v); err != nil {
			return err
		}
	}
	return nil
}

// EvalNumber evaluates src for t and converts the result to a float.
func EvalNumber(rt *Runtime, t Task, src string) (float64, error) {
	val, err := EvalFormula(rt, t, src)
	if err != nil {
		return 0, err
	}
	return numberOf(val, src)
}

func numberOf(val cty.Value, src string) (float64, error) {
	num, err := convert.Convert(val, cty.Number)
	if err != nil || num.IsNull() || !num.IsKnown() {
		return 0, fmt.Errorf("formula %q does not evaluate to a number", src)
	}
	f, _ := num.AsBigFloat().Float64()
	return f, nil
}
