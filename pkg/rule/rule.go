// Package rule implements registration-time validation and runtime evaluation
// of attestation rules: a flat conjunction of field/operator/value conditions.
package rule

import (
	"errors"
	"fmt"
	"strings"
)

// Operator enumerates the condition operators a rule may use.
type Operator string

const (
	OpEqual       Operator = "="
	OpNotEqual    Operator = "≠"
	OpLess        Operator = "<"
	OpLessEq      Operator = "≤"
	OpGreater     Operator = ">"
	OpGreaterEq   Operator = "≥"
	OpIn          Operator = "IN"
	OpNotIn       Operator = "NOT IN"
	OpContains    Operator = "CONTAINS"
	OpNotContains Operator = "NOT CONTAINS"
)

// MaxConditions is the maximum number of conditions a rule may carry.
const MaxConditions = 20

var validOperators = map[Operator]bool{
	OpEqual:       true,
	OpNotEqual:    true,
	OpLess:        true,
	OpLessEq:      true,
	OpGreater:     true,
	OpGreaterEq:   true,
	OpIn:          true,
	OpNotIn:       true,
	OpContains:    true,
	OpNotContains: true,
}

// Condition is a single (field, operator, value) triple.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// ErrEmptyConditions is returned when a proposed condition list has zero entries.
var ErrEmptyConditions = errors.New("rule: condition list is empty")

// ErrTooManyConditions is returned when a proposed condition list exceeds MaxConditions.
var ErrTooManyConditions = errors.New("rule: condition list exceeds maximum size")

// Validate checks a proposed condition list against registration-time rules.
// It returns a single human-readable violation on the first failure, in
// input order; nil means the list is acceptable for registration.
func Validate(conditions []Condition) error {
	if len(conditions) == 0 {
		return ErrEmptyConditions
	}
	if len(conditions) > MaxConditions {
		return ErrTooManyConditions
	}
	for i, c := range conditions {
		if c.Field == "" {
			return fmt.Errorf("rule: condition %d missing field", i)
		}
		if !validOperators[c.Operator] {
			return fmt.Errorf("rule: condition %d has unknown operator %q", i, c.Operator)
		}
		if c.Value == nil {
			return fmt.Errorf("rule: condition %d missing value", i)
		}
		switch c.Operator {
		case OpIn, OpNotIn:
			if !isList(c.Value) {
				return fmt.Errorf("rule: condition %d operator %q requires a list value", i, c.Operator)
			}
		case OpLess, OpLessEq, OpGreater, OpGreaterEq:
			if _, ok := toFloat(c.Value); !ok {
				return fmt.Errorf("rule: condition %d operator %q requires a numeric value", i, c.Operator)
			}
		}
	}
	return nil
}

func isList(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

// Result is the outcome of evaluating one condition against an action record.
type Result struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Expected interface{} `json:"expected"`
	Actual   interface{} `json:"actual"`
	Pass     bool        `json:"pass"`
}

// Evaluation is the aggregate outcome of evaluating a rule.
type Evaluation struct {
	Results []Result `json:"results"`
	Met     bool      `json:"met"`
	Summary string    `json:"summary"`
}

// Evaluate runs every condition against the action record and returns the
// per-condition results plus the aggregate verdict. It never errors: a
// missing field is a failed condition, not an exception, and a rule with
// zero conditions defensively evaluates to met=false.
func Evaluate(conditions []Condition, record map[string]interface{}) Evaluation {
	if len(conditions) == 0 {
		return Evaluation{Results: nil, Met: false, Summary: "0 of 0 condition(s) failed"}
	}

	results := make([]Result, len(conditions))
	failed := 0
	for i, c := range conditions {
		actual, present := record[c.Field]
		pass := evaluateOne(c, actual, present)
		if !pass {
			failed++
		}
		if !present {
			actual = nil
		}
		results[i] = Result{
			Field:    c.Field,
			Operator: c.Operator,
			Expected: c.Value,
			Actual:   actual,
			Pass:     pass,
		}
	}

	met := failed == 0
	n := len(conditions)
	summary := fmt.Sprintf("All %d condition(s) passed", n)
	if !met {
		summary = fmt.Sprintf("%d of %d condition(s) failed", failed, n)
	}
	return Evaluation{Results: results, Met: met, Summary: summary}
}

func evaluateOne(c Condition, actual interface{}, present bool) bool {
	if !present || actual == nil {
		return false
	}
	switch c.Operator {
	case OpEqual:
		return strictEqual(actual, c.Value)
	case OpNotEqual:
		return !strictEqual(actual, c.Value)
	case OpLess, OpLessEq, OpGreater, OpGreaterEq:
		return compareNumeric(c.Operator, actual, c.Value)
	case OpIn:
		return listContains(c.Value, actual)
	case OpNotIn:
		return !listContains(c.Value, actual)
	case OpContains:
		return stringContains(actual, c.Value)
	case OpNotContains:
		return !stringContains(actual, c.Value)
	default:
		return false
	}
}

// strictEqual implements the spec's resolution of equality semantics for
// "=" and "≠": actual and value must share a JSON-native type (number,
// string, bool) and compare equal under that type, never coerced across
// types. "1" and 1 are never equal under this rule.
func strictEqual(actual, value interface{}) bool {
	switch a := actual.(type) {
	case string:
		b, ok := value.(string)
		return ok && a == b
	case bool:
		b, ok := value.(bool)
		return ok && a == b
	default:
		af, aok := toFloat(actual)
		bf, bok := toFloat(value)
		return aok && bok && af == bf
	}
}

func compareNumeric(op Operator, actual, value interface{}) bool {
	a, aok := toFloat(actual)
	b, bok := toFloat(value)
	if !aok || !bok {
		return false
	}
	switch op {
	case OpLess:
		return a < b
	case OpLessEq:
		return a <= b
	case OpGreater:
		return a > b
	case OpGreaterEq:
		return a >= b
	default:
		return false
	}
}

func listContains(list interface{}, actual interface{}) bool {
	items, ok := list.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if strictEqual(actual, item) {
			return true
		}
	}
	return false
}

func stringContains(actual, value interface{}) bool {
	s, ok := actual.(string)
	if !ok {
		return false
	}
	return strings.Contains(s, toStringForm(value))
}

func toStringForm(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		if f, ok := toFloat(v); ok {
			return formatFloat(f)
		}
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
