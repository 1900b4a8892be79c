package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stepflow-io/stepflow/pkg/models"
)

func fieldMap(fields ...models.FieldValue) map[string]models.FieldValue {
	out := make(map[string]models.FieldValue)
	for _, fv := range fields {
		out[fv.APIName] = fv
	}

	return out
}

func skipCondition(order int, rules ...models.Rule) *models.Condition {
	return &models.Condition{
		ID:     "cond-" + string(rune('0'+order)),
		Action: models.ConditionActionSkipTask,
		Order:  order,
		Rules:  rules,
	}
}

func singlePredicate(api string, op models.Operator, ft models.FieldType, value string) models.Rule {
	return models.Rule{Predicates: []models.Predicate{{
		FieldAPIName: api,
		Operator:     op,
		FieldType:    ft,
		Value:        value,
	}}}
}

func TestEvaluateConditions_NoConditions(t *testing.T) {
	task := &models.Task{ID: "t1", Number: 1}

	decision := EvaluateConditions(task, nil)

	assert.False(t, decision.Matched)
}

func TestEvaluateConditions_FirstMatchWins(t *testing.T) {
	// Three conditions: order 1 does not match, order 2 and 3 both would.
	// Only the order 2 condition may be reported.
	task := &models.Task{
		ID: "t1",
		Conditions: []*models.Condition{
			skipCondition(3, singlePredicate("size", models.OperatorEqual, models.FieldTypeText, "large")),
			skipCondition(1, singlePredicate("size", models.OperatorEqual, models.FieldTypeText, "small")),
			skipCondition(2, singlePredicate("size", models.OperatorExists, models.FieldTypeText, "")),
		},
	}

	fields := fieldMap(models.FieldValue{APIName: "size", Type: models.FieldTypeText, Value: "large"})

	decision := EvaluateConditions(task, fields)

	assert.True(t, decision.Matched)
	assert.Equal(t, "cond-2", decision.ConditionID)
}

func TestEvaluateConditions_RulesAreORed(t *testing.T) {
	task := &models.Task{
		ID: "t1",
		Conditions: []*models.Condition{
			skipCondition(1,
				singlePredicate("size", models.OperatorEqual, models.FieldTypeText, "small"),
				singlePredicate("size", models.OperatorEqual, models.FieldTypeText, "large"),
			),
		},
	}

	fields := fieldMap(models.FieldValue{APIName: "size", Type: models.FieldTypeText, Value: "large"})

	assert.True(t, EvaluateConditions(task, fields).Matched)
}

func TestEvaluateConditions_PredicatesAreANDed(t *testing.T) {
	rule := models.Rule{Predicates: []models.Predicate{
		{FieldAPIName: "size", Operator: models.OperatorEqual, FieldType: models.FieldTypeText, Value: "large"},
		{FieldAPIName: "count", Operator: models.OperatorMoreThan, FieldType: models.FieldTypeNumber, Value: "10"},
	}}
	task := &models.Task{ID: "t1", Conditions: []*models.Condition{skipCondition(1, rule)}}

	matching := fieldMap(
		models.FieldValue{APIName: "size", Type: models.FieldTypeText, Value: "large"},
		models.FieldValue{APIName: "count", Type: models.FieldTypeNumber, Value: "15"},
	)
	assert.True(t, EvaluateConditions(task, matching).Matched)

	partial := fieldMap(
		models.FieldValue{APIName: "size", Type: models.FieldTypeText, Value: "large"},
		models.FieldValue{APIName: "count", Type: models.FieldTypeNumber, Value: "5"},
	)
	assert.False(t, EvaluateConditions(task, partial).Matched)
}

func TestEvaluateConditions_EmptyRuleNeverMatches(t *testing.T) {
	task := &models.Task{ID: "t1", Conditions: []*models.Condition{
		skipCondition(1, models.Rule{}),
	}}

	assert.False(t, EvaluateConditions(task, nil).Matched)
}

func TestPredicate_UnsetFieldAsymmetry(t *testing.T) {
	// Negative operators match a field with no value, positive ones never do.
	cases := []struct {
		op      models.Operator
		matches bool
	}{
		{models.OperatorEqual, false},
		{models.OperatorExists, false},
		{models.OperatorContains, false},
		{models.OperatorMoreThan, false},
		{models.OperatorLessThan, false},
		{models.OperatorNotEqual, true},
		{models.OperatorNotExists, true},
		{models.OperatorNotContain, true},
	}

	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			task := &models.Task{ID: "t1", Conditions: []*models.Condition{
				skipCondition(1, singlePredicate("missing", tc.op, models.FieldTypeText, "x")),
			}}

			assert.Equal(t, tc.matches, EvaluateConditions(task, nil).Matched)

			// An empty value behaves like a missing field.
			empty := fieldMap(models.FieldValue{APIName: "missing", Type: models.FieldTypeText})
			assert.Equal(t, tc.matches, EvaluateConditions(task, empty).Matched)
		})
	}
}

func TestPredicate_TypedComparisons(t *testing.T) {
	cases := []struct {
		name    string
		field   models.FieldValue
		pred    models.Predicate
		matches bool
	}{
		{
			name:    "number equal ignores formatting",
			field:   models.FieldValue{APIName: "n", Type: models.FieldTypeNumber, Value: "10.0"},
			pred:    models.Predicate{FieldAPIName: "n", Operator: models.OperatorEqual, FieldType: models.FieldTypeNumber, Value: "10"},
			matches: true,
		},
		{
			name:    "number more_than",
			field:   models.FieldValue{APIName: "n", Type: models.FieldTypeNumber, Value: "10.5"},
			pred:    models.Predicate{FieldAPIName: "n", Operator: models.OperatorMoreThan, FieldType: models.FieldTypeNumber, Value: "10"},
			matches: true,
		},
		{
			name:    "number unparseable fails both orderings",
			field:   models.FieldValue{APIName: "n", Type: models.FieldTypeNumber, Value: "abc"},
			pred:    models.Predicate{FieldAPIName: "n", Operator: models.OperatorLessThan, FieldType: models.FieldTypeNumber, Value: "10"},
			matches: false,
		},
		{
			name:    "date less_than with date-only literal",
			field:   models.FieldValue{APIName: "d", Type: models.FieldTypeDate, Value: "2026-01-02T10:00:00Z"},
			pred:    models.Predicate{FieldAPIName: "d", Operator: models.OperatorLessThan, FieldType: models.FieldTypeDate, Value: "2026-02-01"},
			matches: true,
		},
		{
			name:    "dropdown equality is containment",
			field:   models.FieldValue{APIName: "opts", Type: models.FieldTypeDropdown, Values: []string{"a", "b"}},
			pred:    models.Predicate{FieldAPIName: "opts", Operator: models.OperatorEqual, FieldType: models.FieldTypeDropdown, Value: "b"},
			matches: true,
		},
		{
			name:    "checkbox not_contain",
			field:   models.FieldValue{APIName: "opts", Type: models.FieldTypeCheckbox, Values: []string{"a"}},
			pred:    models.Predicate{FieldAPIName: "opts", Operator: models.OperatorNotContain, FieldType: models.FieldTypeCheckbox, Value: "b"},
			matches: true,
		},
		{
			name:    "user identity equality",
			field:   models.FieldValue{APIName: "owner", Type: models.FieldTypeUser, Value: "user-7"},
			pred:    models.Predicate{FieldAPIName: "owner", Operator: models.OperatorEqual, FieldType: models.FieldTypeUser, Value: "user-7"},
			matches: true,
		},
		{
			name:    "text contains substring",
			field:   models.FieldValue{APIName: "t", Type: models.FieldTypeText, Value: "hello world"},
			pred:    models.Predicate{FieldAPIName: "t", Operator: models.OperatorContains, FieldType: models.FieldTypeText, Value: "lo wo"},
			matches: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := &models.Task{ID: "t1", Conditions: []*models.Condition{
				skipCondition(1, models.Rule{Predicates: []models.Predicate{tc.pred}}),
			}}

			assert.Equal(t, tc.matches, EvaluateConditions(task, fieldMap(tc.field)).Matched)
		})
	}
}

func TestEvaluateConditions_DoesNotMutate(t *testing.T) {
	task := &models.Task{
		ID: "t1",
		Conditions: []*models.Condition{
			skipCondition(2, singlePredicate("size", models.OperatorExists, models.FieldTypeText, "")),
			skipCondition(1, singlePredicate("size", models.OperatorNotExists, models.FieldTypeText, "")),
		},
	}

	EvaluateConditions(task, nil)

	// The declared slice order must survive the sorted evaluation.
	assert.Equal(t, 2, task.Conditions[0].Order)
	assert.Equal(t, 1, task.Conditions[1].Order)
}
