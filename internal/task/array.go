package task

import (
	"context"
	"fmt"
	"math"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/measgrid/internal/config"
	"github.com/zclconf/go-cty/cty"
)

// Kinds of the tasks working on arrays stored in the database.
const (
	KindArrayExtrema   = "ArrayExtremaTask"
	KindArrayFindValue = "ArrayFindValueTask"
	KindArrayFit       = "ArrayFitTask"
)

// Modes of an ArrayExtremaTask.
const (
	ExtremaMax  = "Max"
	ExtremaMin  = "Min"
	ExtremaBoth = "Max & min"
)

// findTolerance is the largest difference at which an element matches the
// value searched by an ArrayFindValueTask.
const findTolerance = 1e-12

// numericArray extracts a numeric array from an entry value. A non-empty
// column selects one column of a record array, stored as a map of columns.
func numericArray(v any, column string) ([]float64, error) {
	if column != "" {
		cols, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("array has no columns, cannot select %q", column)
		}
		col, ok := cols[column]
		if !ok {
			return nil, fmt.Errorf("array has no column %q", column)
		}
		return numericArray(col, "")
	}
	switch arr := v.(type) {
	case []float64:
		return arr, nil
	case []int:
		out := make([]float64, len(arr))
		for i, n := range arr {
			out[i] = float64(n)
		}
		return out, nil
	case []any:
		out := make([]float64, len(arr))
		for i, el := range arr {
			switch n := el.(type) {
			case float64:
				out[i] = n
			case int:
				out[i] = float64(n)
			default:
				return nil, fmt.Errorf("element %d is a %T, not a number", i, el)
			}
		}
		return out, nil
	case map[string]any:
		return nil, fmt.Errorf("array has columns, a column name is required")
	default:
		return nil, fmt.Errorf("value of type %T is not an array", v)
	}
}

func readArray(rt *Runtime, t Task, name, column string) ([]float64, error) {
	v, err := rt.DB.Lookup(t.Path(), name)
	if err != nil {
		return nil, err
	}
	arr, err := numericArray(v, column)
	if err != nil {
		return nil, fmt.Errorf("entry %q: %w", name, err)
	}
	return arr, nil
}

// checkArray verifies that name is visible from t. Scalar values are
// accepted since the entry may only hold its array once the measure runs.
func checkArray(rt *Runtime, t Task, name, column string) error {
	if name == "" {
		return fmt.Errorf("no array name given")
	}
	if rt == nil || rt.DB == nil || t.Path() == "" {
		return nil
	}
	v, err := rt.DB.Lookup(t.Path(), name)
	if err != nil {
		return err
	}
	switch v.(type) {
	case []any, []float64, []int, map[string]any:
		if _, err := numericArray(v, column); err != nil {
			return fmt.Errorf("entry %q: %w", name, err)
		}
	}
	return nil
}

type extremaParams struct {
	TargetArray string `cty:"target_array"`
	ColumnName  string `cty:"column_name"`
	Mode        string `cty:"mode"`
}

// ArrayExtremaTask stores the maximum and/or the minimum of an array along
// with their 0-based indices.
type ArrayExtremaTask struct {
	SimpleTask
	params extremaParams
}

// NewArrayExtremaTask returns a detached ArrayExtremaTask. Its entries
// depend on mode.
func NewArrayExtremaTask(name, array, column, mode string) *ArrayExtremaTask {
	e := &ArrayExtremaTask{params: extremaParams{TargetArray: array, ColumnName: column, Mode: mode}}
	entries := make(map[string]any)
	if mode == ExtremaMax || mode == ExtremaBoth {
		entries["max_ind"] = 0
		entries["max_value"] = 0.0
	}
	if mode == ExtremaMin || mode == ExtremaBoth {
		entries["min_ind"] = 0
		entries["min_value"] = 0.0
	}
	e.Init(KindArrayExtrema, name, entries, &e.params)
	return e
}

// NewArrayExtremaFactory builds ArrayExtremaTasks from their configuration.
// The mode defaults to Max.
func NewArrayExtremaFactory(cfg *config.Task) (Task, error) {
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	p := extremaParams{Mode: ExtremaMax}
	if err := config.DecodeAttributes(cfg.Attributes, &p); err != nil {
		return nil, fmt.Errorf("%s %q: %w", KindArrayExtrema, cfg.Name, err)
	}
	return NewArrayExtremaTask(cfg.Name, p.TargetArray, p.ColumnName, p.Mode), nil
}

func (e *ArrayExtremaTask) Check(_ context.Context, rt *Runtime) (bool, map[string]string) {
	report := make(map[string]string)
	switch e.params.Mode {
	case ExtremaMax, ExtremaMin, ExtremaBoth:
	default:
		report[ReportKey(e, "mode")] = fmt.Sprintf("unknown mode %q, expected %q, %q or %q",
			e.params.Mode, ExtremaMax, ExtremaMin, ExtremaBoth)
	}
	if err := checkArray(rt, e, e.params.TargetArray, e.params.ColumnName); err != nil {
		report[ReportKey(e, "")] = err.Error()
	}
	return len(report) == 0, report
}

func (e *ArrayExtremaTask) Perform(_ context.Context, rt *Runtime) error {
	arr, err := readArray(rt, e, e.params.TargetArray, e.params.ColumnName)
	if err != nil {
		return err
	}
	if len(arr) == 0 {
		return fmt.Errorf("array %q is empty", e.params.TargetArray)
	}
	maxInd, minInd := 0, 0
	for i, v := range arr {
		if v > arr[maxInd] {
			maxInd = i
		}
		if v < arr[minInd] {
			minInd = i
		}
	}
	mode := e.params.Mode
	if mode == ExtremaMax || mode == ExtremaBoth {
		if err := e.Write(rt, "max_ind", maxInd); err != nil {
			return err
		}
		if err := e.Write(rt, "max_value", arr[maxInd]); err != nil {
			return err
		}
	}
	if mode == ExtremaMin || mode == ExtremaBoth {
		if err := e.Write(rt, "min_ind", minInd); err != nil {
			return err
		}
		if err := e.Write(rt, "min_value", arr[minInd]); err != nil {
			return err
		}
	}
	return nil
}

type findValueParams struct {
	TargetArray string `cty:"target_array"`
	ColumnName  string `cty:"column_name"`
	Value       string `cty:"value"`
}

// ArrayFindValueTask stores in its `index` entry the 0-based index of the
// first element equal to the value of a formula.
type ArrayFindValueTask struct {
	SimpleTask
	params findValueParams
}

// NewArrayFindValueTask returns a detached ArrayFindValueTask.
func NewArrayFindValueTask(name, array, column, value string) *ArrayFindValueTask {
	f := &ArrayFindValueTask{params: findValueParams{TargetArray: array, ColumnName: column, Value: value}}
	f.Init(KindArrayFindValue, name, map[string]any{"index": 0}, &f.params)
	return f
}

// NewArrayFindValueFactory builds ArrayFindValueTasks from their
// configuration.
func NewArrayFindValueFactory(cfg *config.Task) (Task, error) {
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	var p findValueParams
	if err := config.DecodeAttributes(cfg.Attributes, &p); err != nil {
		return nil, fmt.Errorf("%s %q: %w", KindArrayFindValue, cfg.Name, err)
	}
	return NewArrayFindValueTask(cfg.Name, p.TargetArray, p.ColumnName, p.Value), nil
}

func (f *ArrayFindValueTask) Check(_ context.Context, rt *Runtime) (bool, map[string]string) {
	report := make(map[string]string)
	if err := CheckFormula(rt, f, f.params.Value); err != nil {
		report[ReportKey(f, "value")] = err.Error()
	}
	if err := checkArray(rt, f, f.params.TargetArray, f.params.ColumnName); err != nil {
		suffix := "array"
		if f.params.ColumnName != "" {
			suffix = "column"
		}
		report[ReportKey(f, suffix)] = err.Error()
	}
	return len(report) == 0, report
}

func (f *ArrayFindValueTask) Perform(_ context.Context, rt *Runtime) error {
	value, err := EvalNumber(rt, f, f.params.Value)
	if err != nil {
		return err
	}
	arr, err := readArray(rt, f, f.params.TargetArray, f.params.ColumnName)
	if err != nil {
		return err
	}
	for i, v := range arr {
		if math.Abs(v-value) <= findTolerance {
			return f.Write(rt, "index", i)
		}
	}
	return fmt.Errorf("could not find %g in array %q", value, f.params.TargetArray)
}

type fitParams struct {
	DataArray     string `cty:"data_array"`
	VariableArray string `cty:"variable_array"`
	Expression    string `cty:"expression"`
	Guess         string `cty:"guess"`
}

// ArrayFitTask fits the data array with an expression of `x`, bound to each
// element of the variable array, and of the parameters `param[0]`,
// `param[1]`... The best parameters are stored in the `fit` entry.
type ArrayFitTask struct {
	SimpleTask
	params fitParams
}

// NewArrayFitTask returns a detached ArrayFitTask. An empty guess starts
// every parameter at 1.
func NewArrayFitTask(name, data, variable, expression, guess string) *ArrayFitTask {
	f := &ArrayFitTask{params: fitParams{DataArray: data, VariableArray: variable, Expression: expression, Guess: guess}}
	f.Init(KindArrayFit, name, map[string]any{"fit": []any{}}, &f.params)
	return f
}

// NewArrayFitFactory builds ArrayFitTasks from their configuration.
func NewArrayFitFactory(cfg *config.Task) (Task, error) {
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	var p fitParams
	if err := config.DecodeAttributes(cfg.Attributes, &p); err != nil {
		return nil, fmt.Errorf("%s %q: %w", KindArrayFit, cfg.Name, err)
	}
	return NewArrayFitTask(cfg.Name, p.DataArray, p.VariableArray, p.Expression, p.Guess), nil
}

// ParamCount returns the number of fit parameters, one more than the
// highest index used on `param`.
func (f *ArrayFitTask) ParamCount() (int, error) {
	expr, err := ParseFormula(f.Name(), f.params.Expression)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, traversal := range expr.Variables() {
		if traversal.RootName() != "param" {
			continue
		}
		if len(traversal) < 2 {
			return 0, fmt.Errorf("param must be indexed in %q", f.params.Expression)
		}
		idx, ok := traversal[1].(hcl.TraverseIndex)
		if !ok || idx.Key.Type() != cty.Number {
			return 0, fmt.Errorf("param must be indexed by a number in %q", f.params.Expression)
		}
		i, acc := idx.Key.AsBigFloat().Int64()
		if acc != 0 || i < 0 {
			return 0, fmt.Errorf("invalid param index %s in %q", idx.Key.AsBigFloat(), f.params.Expression)
		}
		n = max(n, int(i)+1)
	}
	return n, nil
}

func (f *ArrayFitTask) guess(rt *Runtime, n int) ([]float64, error) {
	if f.params.Guess == "" {
		p := make([]float64, n)
		for i := range p {
			p[i] = 1
		}
		return p, nil
	}
	val, err := EvalFormula(rt, f, f.params.Guess)
	if err != nil {
		return nil, err
	}
	v, err := config.GoValue(val)
	if err != nil {
		return nil, err
	}
	p, err := numericArray(v, "")
	if err != nil {
		return nil, fmt.Errorf("guess %q: %w", f.params.Guess, err)
	}
	if len(p) != n {
		return nil, fmt.Errorf("%d guesses given for %d parameters", len(p), n)
	}
	return p, nil
}

func (f *ArrayFitTask) Check(_ context.Context, rt *Runtime) (bool, map[string]string) {
	report := make(map[string]string)
	if err := checkFormula(rt, f, f.params.Expression, "x", "param"); err != nil {
		report[ReportKey(f, "expression")] = err.Error()
	} else if n, err := f.ParamCount(); err != nil {
		report[ReportKey(f, "expression")] = err.Error()
	} else if n == 0 {
		report[ReportKey(f, "expression")] = fmt.Sprintf("no parameter to fit in %q", f.params.Expression)
	} else if f.params.Guess != "" {
		if err := CheckFormula(rt, f, f.params.Guess); err != nil {
			report[ReportKey(f, "guess")] = err.Error()
		} else if rt != nil && rt.DB != nil && f.Path() != "" {
			if _, err := f.guess(rt, n); err != nil {
				report[ReportKey(f, "guess")] = err.Error()
			}
		}
	}
	if err := checkArray(rt, f, f.params.DataArray, ""); err != nil {
		report[ReportKey(f, "data")] = err.Error()
	}
	if err := checkArray(rt, f, f.params.VariableArray, ""); err != nil {
		report[ReportKey(f, "variable")] = err.Error()
	}
	return len(report) == 0, report
}

func (f *ArrayFitTask) Perform(_ context.Context, rt *Runtime) error {
	ys, err := readArray(rt, f, f.params.DataArray, "")
	if err != nil {
		return err
	}
	xs, err := readArray(rt, f, f.params.VariableArray, "")
	if err != nil {
		return err
	}
	if len(xs) != len(ys) {
		return fmt.Errorf("data has %d points but variable has %d", len(ys), len(xs))
	}
	n, err := f.ParamCount()
	if err != nil {
		return err
	}
	p0, err := f.guess(rt, n)
	if err != nil {
		return err
	}

	expr, err := ParseFormula(f.Name(), f.params.Expression)
	if err != nil {
		return err
	}
	vars, err := formulaVariables(rt, f, expr, map[string]cty.Value{
		"x":     cty.Zero,
		"param": cty.EmptyTupleVal,
	})
	if err != nil {
		return err
	}
	model := func(p []float64, x float64) (float64, error) {
		params := make([]cty.Value, len(p))
		for i, v := range p {
			params[i] = cty.NumberFloatVal(v)
		}
		vars["x"] = cty.NumberFloatVal(x)
		vars["param"] = cty.TupleVal(params)
		val, err := evalExpression(expr, f.params.Expression, vars)
		if err != nil {
			return 0, err
		}
		return numberOf(val, f.params.Expression)
	}

	best, err := leastSquares(model, xs, ys, p0)
	if err != nil {
		return fmt.Errorf("fitting %q: %w", f.params.Expression, err)
	}
	fit := make([]any, len(best))
	for i, v := range best {
		fit[i] = v
	}
	return f.Write(rt, "fit", fit)
}

const (
	fitMaxIterations = 200
	fitTolerance     = 1e-12
)

// leastSquares minimises the sum of squared residuals of model over the
// points with the Levenberg-Marquardt method, starting from p0.
func leastSquares(model func(p []float64, x float64) (float64, error), xs, ys, p0 []float64) ([]float64, error) {
	m, n := len(xs), len(p0)
	if m < n {
		return nil, fmt.Errorf("%d points cannot determine %d parameters", m, n)
	}
	residuals := func(p []float64) ([]float64, float64, error) {
		r := make([]float64, m)
		var cost float64
		for i, x := range xs {
			y, err := model(p, x)
			if err != nil {
				return nil, 0, err
			}
			r[i] = ys[i] - y
			cost += r[i] * r[i]
		}
		if math.IsNaN(cost) {
			cost = math.Inf(1)
		}
		return r, cost, nil
	}

	p := append([]float64(nil), p0...)
	r, cost, err := residuals(p)
	if err != nil {
		return nil, err
	}
	lambda := 1e-3
	for range fitMaxIterations {
		jac := make([][]float64, m)
		for i := range jac {
			jac[i] = make([]float64, n)
		}
		for j := range n {
			h := 1.49e-8 * math.Max(math.Abs(p[j]), 1)
			shifted := append([]float64(nil), p...)
			shifted[j] += h
			rs, _, err := residuals(shifted)
			if err != nil {
				return nil, err
			}
			for i := range m {
				jac[i][j] = (r[i] - rs[i]) / h
			}
		}

		jtj := make([][]float64, n)
		jtr := make([]float64, n)
		for a := range n {
			jtj[a] = make([]float64, n)
			for b := range n {
				for i := range m {
					jtj[a][b] += jac[i][a] * jac[i][b]
				}
			}
			for i := range m {
				jtr[a] += jac[i][a] * r[i]
			}
		}

		for {
			damped := make([][]float64, n)
			for a := range n {
				damped[a] = append([]float64(nil), jtj[a]...)
				damped[a][a] += lambda * math.Max(jtj[a][a], 1e-12)
			}
			step, err := solveLinear(damped, append([]float64(nil), jtr...))
			if err != nil {
				return nil, err
			}
			next := make([]float64, n)
			for j := range n {
				next[j] = p[j] + step[j]
			}
			nr, ncost, err := residuals(next)
			if err != nil {
				return nil, err
			}
			if ncost < cost {
				converged := cost-ncost <= fitTolerance*(1+cost)
				p, r, cost = next, nr, ncost
				lambda = math.Max(lambda/10, 1e-12)
				if converged {
					return p, nil
				}
				break
			}
			lambda *= 10
			if lambda > 1e16 {
				return p, nil
			}
		}
	}
	return p, nil
}

// solveLinear solves a·x = b by Gaussian elimination with partial pivoting.
// a and b are modified.
func solveLinear(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	for col := range n {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-300 {
			return nil, fmt.Errorf("singular system, parameter %d has no effect", col)
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]
		for row := col + 1; row < n; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < n; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}
	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < n; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, nil
}
