package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Operator is a comparison applied between an observed metric value and a
// rule threshold.
type Operator string

const (
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
)

// ParseOperator accepts only the four supported comparisons.
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(s); op {
	case OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual:
		return op, nil
	default:
		return "", fmt.Errorf("model: unsupported operator %q", s)
	}
}

// Valid reports whether op is one of the supported comparisons.
func (op Operator) Valid() bool {
	_, err := ParseOperator(string(op))
	return err == nil
}

// Compare evaluates value <op> threshold.
func (op Operator) Compare(value, threshold float64) bool {
	switch op {
	case OpLess:
		return value < threshold
	case OpLessOrEqual:
		return value <= threshold
	case OpGreater:
		return value > threshold
	case OpGreaterOrEqual:
		return value >= threshold
	default:
		return false
	}
}

// Rule cancels a run when a sample of Metric satisfies value <Operator> Threshold.
type Rule struct {
	Metric    string   `json:"metric" validate:"required,max=255"`
	Threshold float64  `json:"threshold"`
	Operator  Operator `json:"operator" validate:"required,oneof=< <= > >="`
}

// Valid reports whether the rule can be evaluated.
func (r Rule) Valid() bool {
	return ruleValidator.Struct(r) == nil
}

// Key identifies the rule for alert deduplication.
func (r Rule) Key() string {
	return "threshold:" + r.Metric
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s %s", r.Metric, r.Operator, FormatNumber(r.Threshold))
}

// RuleSet is the ordered list of threshold rules configured on a run.
type RuleSet []Rule

// RuleError describes a configured rule that was dropped during parsing.
type RuleError struct {
	Metric string
	Reason string
}

func (e RuleError) Error() string {
	return fmt.Sprintf("rule %q: %s", e.Metric, e.Reason)
}

var ruleValidator = validator.New()

// ParseRuleSet extracts threshold rules from a run's logger settings blob.
//
// The blob is a JSON object whose "trigger" key maps metric names to
// {"threshold": number, "operator": string}. Rules keep the key order of the
// stored object. Entries with an unsupported operator, a non-numeric
// threshold, or an empty metric name are dropped and reported through the
// returned error (joined RuleErrors); the valid remainder is always returned.
func ParseRuleSet(settings []byte) (RuleSet, error) {
	settings = bytes.TrimSpace(settings)
	if len(settings) == 0 || bytes.Equal(settings, []byte("null")) {
		return nil, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(settings, &top); err != nil {
		return nil, fmt.Errorf("model: decode logger settings: %w", err)
	}
	raw, ok := top["trigger"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("model: decode trigger settings: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("model: trigger settings must be an object")
	}

	var (
		rules RuleSet
		errs  []error
	)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return rules, fmt.Errorf("model: decode trigger key: %w", err)
		}
		metric, _ := keyTok.(string)

		var entry map[string]any
		if err := dec.Decode(&entry); err != nil {
			errs = append(errs, RuleError{Metric: metric, Reason: "entry is not an object"})
			continue
		}
		rule, reason := ruleFromEntry(metric, entry)
		if reason != "" {
			errs = append(errs, RuleError{Metric: metric, Reason: reason})
			continue
		}
		rules = append(rules, rule)
	}
	return rules, errors.Join(errs...)
}

func ruleFromEntry(metric string, entry map[string]any) (Rule, string) {
	if strings.TrimSpace(metric) == "" {
		return Rule{}, "metric name is empty"
	}
	opStr, _ := entry["operator"].(string)
	op, err := ParseOperator(opStr)
	if err != nil {
		return Rule{}, fmt.Sprintf("unsupported operator %q", opStr)
	}
	num, ok := entry["threshold"].(json.Number)
	if !ok {
		return Rule{}, "threshold is not numeric"
	}
	threshold, err := num.Float64()
	if err != nil {
		return Rule{}, "threshold is not numeric"
	}
	rule := Rule{Metric: metric, Threshold: threshold, Operator: op}
	if err := ruleValidator.Struct(rule); err != nil {
		return Rule{}, err.Error()
	}
	return rule, ""
}
