package engine

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stepflow-io/stepflow/pkg/models"
)

// Decision is the outcome of evaluating a task's conditions.
type Decision struct {
	Matched     bool
	Action      models.ConditionAction
	ConditionID string
}

// EvaluateConditions decides whether a task about to become current should
// run, be skipped, or end the workflow. Conditions are checked in ascending
// Order and the first match wins. The function is pure: it reads the field
// snapshot and mutates nothing, which is what keeps revert and replay
// deterministic.
func EvaluateConditions(task *models.Task, fields map[string]models.FieldValue) Decision {
	if len(task.Conditions) == 0 {
		return Decision{}
	}

	conditions := make([]*models.Condition, len(task.Conditions))
	copy(conditions, task.Conditions)
	sort.SliceStable(conditions, func(i, j int) bool { return conditions[i].Order < conditions[j].Order })

	for _, c := range conditions {
		if conditionMatches(c, fields) {
			return Decision{Matched: true, Action: c.Action, ConditionID: c.ID}
		}
	}

	return Decision{}
}

// conditionMatches is an OR over rules; a rule is an AND over predicates.
func conditionMatches(c *models.Condition, fields map[string]models.FieldValue) bool {
	for _, rule := range c.Rules {
		if ruleMatches(rule, fields) {
			return true
		}
	}

	return false
}

func ruleMatches(rule models.Rule, fields map[string]models.FieldValue) bool {
	for _, p := range rule.Predicates {
		if !predicateMatches(p, fields) {
			return false
		}
	}

	return len(rule.Predicates) > 0
}

// predicateMatches compares one field value against the predicate literal,
// coerced by the referenced field's type. A field with no value yet never
// matches a positive operator and always matches a negative one; that
// asymmetry governs default branch behavior and must hold.
func predicateMatches(p models.Predicate, fields map[string]models.FieldValue) bool {
	fv, ok := fields[p.FieldAPIName]
	if !ok || !fv.IsSet() {
		return p.Operator.Negative()
	}

	switch p.Operator {
	case models.OperatorExists:
		return true
	case models.OperatorNotExists:
		return false
	case models.OperatorEqual:
		return valuesEqual(p, fv)
	case models.OperatorNotEqual:
		return !valuesEqual(p, fv)
	case models.OperatorContains:
		return valueContains(p, fv)
	case models.OperatorNotContain:
		return !valueContains(p, fv)
	case models.OperatorMoreThan:
		return compareOrdered(p, fv) > 0
	case models.OperatorLessThan:
		return compareOrdered(p, fv) < 0
	default:
		return false
	}
}

func valuesEqual(p models.Predicate, fv models.FieldValue) bool {
	switch p.FieldType {
	case models.FieldTypeUser, models.FieldTypeGroup:
		// Identity equality on string-encoded IDs.
		return fv.Value == p.Value
	case models.FieldTypeCheckbox, models.FieldTypeDropdown:
		// Multi-select equality is set containment.
		return fv.Contains(p.Value)
	case models.FieldTypeNumber:
		left, errL := strconv.ParseFloat(fv.Value, 64)
		right, errR := strconv.ParseFloat(p.Value, 64)

		return errL == nil && errR == nil && left == right
	case models.FieldTypeDate:
		left, errL := parseDate(fv.Value)
		right, errR := parseDate(p.Value)

		return errL == nil && errR == nil && left.Equal(right)
	case models.FieldTypeText, models.FieldTypeURL, models.FieldTypeFile:
		return fv.Value == p.Value
	default:
		return fv.Value == p.Value
	}
}

func valueContains(p models.Predicate, fv models.FieldValue) bool {
	switch p.FieldType {
	case models.FieldTypeCheckbox, models.FieldTypeDropdown:
		return fv.Contains(p.Value)
	default:
		return strings.Contains(fv.Value, p.Value)
	}
}

// compareOrdered returns -1/0/+1 for field < / == / > literal under the
// field type's native ordering. Unparseable values compare as equal, which
// makes both more_than and less_than fail.
func compareOrdered(p models.Predicate, fv models.FieldValue) int {
	switch p.FieldType {
	case models.FieldTypeNumber:
		left, errL := strconv.ParseFloat(fv.Value, 64)
		right, errR := strconv.ParseFloat(p.Value, 64)

		if errL != nil || errR != nil {
			return 0
		}

		switch {
		case left < right:
			return -1
		case left > right:
			return 1
		default:
			return 0
		}
	case models.FieldTypeDate:
		left, errL := parseDate(fv.Value)
		right, errR := parseDate(p.Value)

		if errL != nil || errR != nil {
			return 0
		}

		switch {
		case left.Before(right):
			return -1
		case left.After(right):
			return 1
		default:
			return 0
		}
	default:
		return strings.Compare(fv.Value, p.Value)
	}
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}

	return time.Parse("2006-01-02", value)
}
