package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/metarefresh/metarefresh/internal/models"
)

// ErrGuardFailed is returned by Guard when a rule does not pass.
var ErrGuardFailed = errors.New("policy guard failed")

// Engine is the policy evaluation engine using CEL
type Engine struct {
	env *cel.Env
}

func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// Evaluate checks rules against input. Compile and evaluation problems
// fail the rule rather than the call.
func (e *Engine) Evaluate(rules []models.PolicyRule, input Input) ([]models.PolicyResult, error) {
	activation, err := input.toMap()
	if err != nil {
		return nil, err
	}

	results := make([]models.PolicyResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, e.evaluateRule(rule, activation))
	}
	return results, nil
}

// Guard evaluates rules and returns an error wrapping ErrGuardFailed
// naming every failed rule.
func (e *Engine) Guard(rules []models.PolicyRule, input Input) ([]models.PolicyResult, error) {
	results, err := e.Evaluate(rules, input)
	if err != nil {
		return nil, err
	}
	var failed []string
	for _, r := range models.FailedRules(results) {
		failed = append(failed, r.String())
	}
	if len(failed) > 0 {
		return results, fmt.Errorf("%w: %s", ErrGuardFailed, strings.Join(failed, "; "))
	}
	return results, nil
}

func (e *Engine) evaluateRule(rule models.PolicyRule, input map[string]any) models.PolicyResult {
	fail := func(format string, args ...any) models.PolicyResult {
		return models.PolicyResult{RuleName: rule.Name, FailureMsg: fmt.Sprintf(format, args...)}
	}

	ast, issues := e.env.Compile(rule.Expr)
	if issues != nil && issues.Err() != nil {
		return fail("CEL compile error: %v", issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return fail("CEL program error: %v", err)
	}

	out, _, err := prg.Eval(map[string]any{"input": input})
	if err != nil {
		return fail("CEL evaluation error: %v", err)
	}

	passed, ok := out.Value().(bool)
	if !ok {
		return fail("rule expression must return boolean, got %T", out.Value())
	}

	result := models.PolicyResult{RuleName: rule.Name, Passed: passed}
	if !passed {
		result.FailureMsg = rule.FailureMsg
		if result.FailureMsg == "" {
			result.FailureMsg = "rule evaluated to false"
		}
	}
	return result
}

// CompileAndValidate reports every rule that does not compile.
func (e *Engine) CompileAndValidate(rules []models.PolicyRule) error {
	var problems []string
	for _, rule := range rules {
		_, issues := e.env.Compile(rule.Expr)
		if issues != nil && issues.Err() != nil {
			problems = append(problems, fmt.Sprintf("rule %q: %v", rule.Name, issues.Err()))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("policy validation failed:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// Input is what rules see as `input`.
type Input struct {
	Set string `json:"set"`
	// Types holds the accumulated records by entity type.
	Types  map[string][]models.Record `json:"types"`
	Counts map[string]int             `json:"counts"`
	Total  int                        `json:"total"`
	// Sources maps each source to its fetch outcome.
	Sources map[string]string `json:"sources"`
	// PreviousCounts are the per-type counts of the previous output.
	PreviousCounts map[string]int `json:"previous_counts"`
	PreviousTotal  int            `json:"previous_total"`
}

// toMap flattens the input through JSON so CEL only sees maps, lists
// and primitive values. Integral numbers come back as int64.
func (in Input) toMap() (map[string]any, error) {
	types := make(map[string][]models.Record, len(in.Types))
	for t, recs := range in.Types {
		if recs == nil {
			recs = []models.Record{}
		}
		types[t] = recs
	}
	in.Types = types
	if in.Counts == nil {
		in.Counts = map[string]int{}
	}
	if in.Sources == nil {
		in.Sources = map[string]string{}
	}
	if in.PreviousCounts == nil {
		in.PreviousCounts = map[string]int{}
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}
	return numbers(out).(map[string]any), nil
}

func numbers(v any) any {
	switch c := v.(type) {
	case map[string]any:
		for k, val := range c {
			c[k] = numbers(val)
		}
		return c
	case []any:
		for i, val := range c {
			c[i] = numbers(val)
		}
		return c
	case json.Number:
		if i, err := c.Int64(); err == nil {
			return i
		}
		f, _ := c.Float64()
		return f
	}
	return v
}
