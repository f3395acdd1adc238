package findings

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/vulngraph/api/schemas"
)

// Filter keeps findings for which a CEL expression is true. The expression
// sees each finding as the map variable `finding`, with the same field names
// as the JSON document, e.g.
//
//	finding.vulnerability.severity == "CRITICAL" && finding.asset.service == "payments"
type Filter struct {
	expr    string
	program cel.Program
}

// NewFilter compiles expr. An empty expression is an error; callers skip
// filtering instead.
func NewFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("filter expression is empty")
	}
	env, err := cel.NewEnv(cel.Variable("finding", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("failed to create filter environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", iss.Err())
	}
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("filter expression must be boolean, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build filter program: %w", err)
	}
	return &Filter{expr: expr, program: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match evaluates the filter against one finding. Absent optional fields,
// such as package on a finding without one, evaluate as no match.
func (f *Filter) Match(finding schemas.Finding) (bool, error) {
	doc, err := toDocument(finding)
	if err != nil {
		return false, err
	}
	out, _, err := f.program.Eval(map[string]any{"finding": doc})
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return false, nil
		}
		return false, fmt.Errorf("filter evaluation failed for %s: %w", finding.ID, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter returned %T, not bool", out.Value())
	}
	return b, nil
}

// Apply returns the findings that match, in input order.
func (f *Filter) Apply(findings []schemas.Finding) ([]schemas.Finding, error) {
	out := make([]schemas.Finding, 0, len(findings))
	for _, fd := range findings {
		ok, err := f.Match(fd)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, fd)
		}
	}
	return out, nil
}

func toDocument(finding schemas.Finding) (map[string]any, error) {
	api := json.ConfigCompatibleWithStandardLibrary
	b, err := api.Marshal(finding)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := api.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
