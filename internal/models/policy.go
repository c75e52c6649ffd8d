package models

import "fmt"

// PolicyRule is a CEL expression guarding a set's output. A set is only
// written when every rule evaluates to true.
type PolicyRule struct {
	Name       string `yaml:"name"`
	Expr       string `yaml:"expr"`
	FailureMsg string `yaml:"failure_msg"`
}

// PolicyResult is the outcome of one rule.
type PolicyResult struct {
	RuleName   string
	Passed     bool
	FailureMsg string
}

func (r PolicyResult) String() string {
	if r.Passed {
		return r.RuleName + ": pass"
	}
	return fmt.Sprintf("%s: %s", r.RuleName, r.FailureMsg)
}

// FailedRules returns the results that did not pass, in rule order.
func FailedRules(results []PolicyResult) []PolicyResult {
	var failed []PolicyResult
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
