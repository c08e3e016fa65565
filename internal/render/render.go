// Package render turns candidates into suggestion rows using the per-kind
// CEL row expressions.
package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	celext "github.com/google/cel-go/ext"

	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/pkg/logger"
)

// CandidateVar is the variable a row expression sees the candidate under.
const CandidateVar = "c"

// Renderer holds one compiled program per kind. It is safe for concurrent
// use.
type Renderer struct {
	env      *cel.Env
	programs map[entity.Kind]cel.Program
	log      logr.Logger

	// warned keeps evaluation failures from flooding the log.
	mu     sync.Mutex
	warned map[entity.Kind]bool
}

// newRowEnv creates the environment row expressions compile in.
func newRowEnv(opts ...cel.EnvOption) (*cel.Env, error) {
	allOpts := make([]cel.EnvOption, 0, 5+len(opts))
	allOpts = append(allOpts,
		cel.Variable(CandidateVar, cel.MapType(cel.StringType, cel.DynType)),
		celext.Strings(),
		celext.Encoders(),
		celext.Lists(),
		celext.Math(),
	)
	allOpts = append(allOpts, opts...)
	return cel.NewEnv(allOpts...)
}

// New compiles the row expression of every kind in reg. Kinds without an
// expression render their name.
func New(reg *entity.Registry, log logr.Logger) (*Renderer, error) {
	env, err := newRowEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	r := &Renderer{env: env, programs: map[entity.Kind]cel.Program{}, log: log, warned: map[entity.Kind]bool{}}
	for _, kind := range reg.Kinds() {
		spec, _ := reg.Spec(kind)
		if strings.TrimSpace(spec.Row) == "" {
			continue
		}
		prg, err := r.compile(spec.Row)
		if err != nil {
			return nil, fmt.Errorf("kind %s row expression: %w", kind, err)
		}
		r.programs[kind] = prg
	}
	return r, nil
}

// Check compiles expr without keeping it; used to validate configuration.
func Check(expr string) error {
	env, err := newRowEnv()
	if err != nil {
		return err
	}
	_, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compilation error: %w", issues.Err())
	}
	return nil
}

func (r *Renderer) compile(expr string) (cel.Program, error) {
	ast, issues := r.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation error: %w", issues.Err())
	}
	prg, err := r.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	return prg, nil
}

// Row renders one suggestion. Evaluation failures and empty results fall
// back to the candidate name.
func (r *Renderer) Row(kind entity.Kind, c entity.Candidate) string {
	prg, ok := r.programs[kind]
	if !ok {
		return c.Name
	}
	out, _, err := prg.Eval(map[string]any{CandidateVar: c.Fields()})
	if err != nil {
		r.warnOnce(kind, err)
		return c.Name
	}
	s := strings.TrimSpace(stringify(ToGo(out)))
	if s == "" {
		return c.Name
	}
	return s
}

// Rows renders a list in order.
func (r *Renderer) Rows(kind entity.Kind, cands []entity.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = r.Row(kind, c)
	}
	return out
}

func (r *Renderer) warnOnce(kind entity.Kind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.warned[kind] {
		return
	}
	r.warned[kind] = true
	r.log.V(1).Info("row expression failed, showing name", logger.KindKey, kind, "error", err.Error())
}

// ToGo converts a CEL result to a Go value. Lists and maps are converted
// recursively.
func ToGo(val ref.Val) any {
	if val == nil {
		return nil
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Int:
		return int64(v)
	case types.Uint:
		return uint64(v)
	case types.Double:
		return float64(v)
	case types.String:
		return string(v)
	case types.Bytes:
		return []byte(v)
	}
	valuer, ok := val.(interface{ Value() any })
	if !ok {
		return val
	}
	switch inner := valuer.Value().(type) {
	case []ref.Val:
		out := make([]any, len(inner))
		for i, e := range inner {
			out[i] = ToGo(e)
		}
		return out
	case map[ref.Val]ref.Val:
		out := make(map[string]any, len(inner))
		for k, v := range inner {
			out[fmt.Sprint(ToGo(k))] = ToGo(v)
		}
		return out
	default:
		return inner
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := stringify(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " · ")
	default:
		return fmt.Sprint(t)
	}
}
