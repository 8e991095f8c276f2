package memory

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
)

// Filter is a compiled boolean CEL expression over a memory's title,
// content and importance, e.g. `importance >= 7 && title.contains("User")`.
type Filter struct {
	expr string
	prg  cel.Program
}

// CompileFilter parses and type-checks expr.
func CompileFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("title", cel.StringType),
		cel.Variable("content", cel.StringType),
		cel.Variable("importance", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, mnemeErrors.Wrap(mnemeErrors.CodeInvalidFilter, "invalid filter expression", iss.Err()).
			WithSuggestion("Filters are CEL expressions over title, content and importance")
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, mnemeErrors.Newf(mnemeErrors.CodeInvalidFilter,
			"filter must evaluate to bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, mnemeErrors.Wrap(mnemeErrors.CodeInvalidFilter, "invalid filter expression", err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match evaluates the filter against m. A nil filter matches everything.
func (f *Filter) Match(m Memory) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, _, err := f.prg.Eval(map[string]any{
		"title":      m.Title,
		"content":    m.Content,
		"importance": int64(m.Importance),
	})
	if err != nil {
		return false, mnemeErrors.Wrap(mnemeErrors.CodeInvalidFilter, "filter evaluation failed", err)
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

// Apply returns the memories matching f, preserving order.
func (f *Filter) Apply(memories []Memory) ([]Memory, error) {
	if f == nil {
		return memories, nil
	}
	out := make([]Memory, 0, len(memories))
	for _, m := range memories {
		ok, err := f.Match(m)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}
