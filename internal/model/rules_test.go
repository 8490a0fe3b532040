package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlop-ai/monitor/internal/model"
)

func TestParseOperator(t *testing.T) {
	for _, s := range []string{"<", "<=", ">", ">="} {
		op, err := model.ParseOperator(s)
		require.NoError(t, err, s)
		assert.Equal(t, model.Operator(s), op)
	}
	for _, s := range []string{"==", "!=", "", "=>", "gt"} {
		_, err := model.ParseOperator(s)
		assert.Error(t, err, s)
	}
}

func TestOperatorCompare(t *testing.T) {
	tests := []struct {
		op        model.Operator
		value     float64
		threshold float64
		want      bool
	}{
		{model.OpGreater, 12, 10, true},
		{model.OpGreater, 10, 10, false},
		{model.OpGreaterOrEqual, 10, 10, true},
		{model.OpLess, 0.5, 1, true},
		{model.OpLess, 1, 1, false},
		{model.OpLessOrEqual, 1, 1, true},
		{model.Operator("=="), 1, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.Compare(tt.value, tt.threshold), "%v %s %v", tt.value, tt.op, tt.threshold)
	}
}

func TestParseRuleSet_PreservesOrder(t *testing.T) {
	settings := []byte(`{"trigger": {
		"val/loss": {"threshold": 10, "operator": ">"},
		"acc": {"threshold": 0.25, "operator": "<="},
		"grad_norm": {"threshold": 1e3, "operator": ">="}
	}}`)

	rules, err := model.ParseRuleSet(settings)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, model.Rule{Metric: "val/loss", Threshold: 10, Operator: model.OpGreater}, rules[0])
	assert.Equal(t, model.Rule{Metric: "acc", Threshold: 0.25, Operator: model.OpLessOrEqual}, rules[1])
	assert.Equal(t, "grad_norm", rules[2].Metric)
	assert.Equal(t, 1000.0, rules[2].Threshold)
}

func TestParseRuleSet_DropsInvalidEntries(t *testing.T) {
	settings := []byte(`{"trigger": {
		"loss": {"threshold": 10, "operator": "=="},
		"acc": {"threshold": "high", "operator": ">"},
		"": {"threshold": 1, "operator": ">"},
		"lr": 5,
		"ok": {"threshold": 3, "operator": "<"}
	}}`)

	rules, err := model.ParseRuleSet(settings)
	require.Error(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "ok", rules[0].Metric)

	var ruleErr model.RuleError
	require.ErrorAs(t, err, &ruleErr)
	assert.Contains(t, err.Error(), `rule "loss"`)
	assert.Contains(t, err.Error(), `rule "acc"`)
	assert.Contains(t, err.Error(), `rule "lr"`)
}

func TestParseRuleSet_Empty(t *testing.T) {
	for _, in := range []string{``, `null`, `{}`, `{"trigger": null}`, `{"trigger": {}}`, `{"other": 1}`} {
		rules, err := model.ParseRuleSet([]byte(in))
		assert.NoError(t, err, in)
		assert.Empty(t, rules, in)
	}
}

func TestParseRuleSet_Malformed(t *testing.T) {
	_, err := model.ParseRuleSet([]byte(`{"trigger": [1,2]}`))
	assert.Error(t, err)

	_, err = model.ParseRuleSet([]byte(`not json`))
	assert.Error(t, err)
}

func TestRuleValid(t *testing.T) {
	assert.True(t, model.Rule{Metric: "loss", Threshold: 1, Operator: model.OpGreater}.Valid())
	assert.False(t, model.Rule{Metric: "loss", Threshold: 1, Operator: "=="}.Valid())
	assert.False(t, model.Rule{Metric: "", Threshold: 1, Operator: model.OpLess}.Valid())
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "12", model.FormatNumber(12))
	assert.Equal(t, "0.25", model.FormatNumber(0.25))
	assert.Equal(t, "-3.5", model.FormatNumber(-3.5))
}
