package models

// ConditionAction is what a matching condition does to the task about to run.
type ConditionAction string

const (
	ConditionActionSkipTask    ConditionAction = "skip_task"
	ConditionActionEndWorkflow ConditionAction = "end_workflow"
)

// Operator is the closed set of predicate comparison operators.
type Operator string

const (
	OperatorEqual      Operator = "equal"
	OperatorNotEqual   Operator = "not_equal"
	OperatorExists     Operator = "exists"
	OperatorNotExists  Operator = "not_exists"
	OperatorContains   Operator = "contains"
	OperatorNotContain Operator = "not_contain"
	OperatorMoreThan   Operator = "more_than"
	OperatorLessThan   Operator = "less_than"
)

// Negative reports whether the operator is a negation. Negative operators
// match against fields that have no value yet; positive ones never do.
func (o Operator) Negative() bool {
	return o == OperatorNotEqual || o == OperatorNotExists || o == OperatorNotContain
}

// Condition is a branching rule attached to a task. Conditions are evaluated
// in ascending Order; the first one whose rule set matches wins.
type Condition struct {
	ID     string          `json:"id"`
	Action ConditionAction `json:"action" validate:"required,oneof=skip_task end_workflow"`
	Order  int             `json:"order"`
	// Rules are ORed together.
	Rules []Rule `json:"rules" validate:"min=1"`
}

// Rule matches when all of its predicates match.
type Rule struct {
	Predicates []Predicate `json:"predicates" validate:"min=1"`
}

// Predicate compares one field's value against a literal, typed by the
// referenced field's type.
type Predicate struct {
	FieldAPIName string    `json:"field_api_name" validate:"required"`
	Operator     Operator  `json:"operator"       validate:"required"`
	FieldType    FieldType `json:"field_type"     validate:"required"`
	Value        string    `json:"value,omitempty"`
}
