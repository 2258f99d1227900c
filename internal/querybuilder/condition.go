package querybuilder

import (
	"fmt"
	"strings"
)

// Op is a comparison or membership operator for a condition leaf.
type Op string

const (
	OpEq      Op = "="
	OpNe      Op = "!="
	OpLt      Op = "<"
	OpLe      Op = "<="
	OpGt      Op = ">"
	OpGe      Op = ">="
	OpLike    Op = "LIKE"
	OpIn      Op = "IN"
	OpNotIn   Op = "NOT IN"
	OpIsNull  Op = "IS NULL"
	OpNotNull Op = "IS NOT NULL"
)

// Combinator joins sibling nodes in a ConditionTree.
type Combinator string

const (
	And_ Combinator = "AND"
	Or_  Combinator = "OR"
)

// ConditionTree is a recursive tree of leaves combined by AND/OR,
// rooted either at WHERE or HAVING (spec §4.1). A tree is either a leaf
// (Column set) or a branch (Children set); never both.
type ConditionTree struct {
	// Leaf fields.
	Column      string
	Op          Op
	Value       any    // scalar value, or []any for OpIn/OpNotIn
	ValueColumn string // set instead of Value to compare column-to-column

	// Branch fields.
	Combinator Combinator
	Children   []*ConditionTree
}

// Leaf builds a `column op value` condition.
func Leaf(column string, op Op, value any) *ConditionTree {
	return &ConditionTree{Column: column, Op: op, Value: value}
}

// LeafColumn builds a `column op otherColumn` condition, comparing two
// columns rather than a column against a bound value.
func LeafColumn(column string, op Op, otherColumn string) *ConditionTree {
	return &ConditionTree{Column: column, Op: op, ValueColumn: otherColumn}
}

// IsNull builds a `column IS NULL` condition.
func IsNull(column string) *ConditionTree {
	return &ConditionTree{Column: column, Op: OpIsNull}
}

// In builds a `column IN (v1, ..., vn)` condition.
func In(column string, values ...any) *ConditionTree {
	return &ConditionTree{Column: column, Op: OpIn, Value: values}
}

// NotIn builds a `column NOT IN (v1, ..., vn)` condition.
func NotIn(column string, values ...any) *ConditionTree {
	return &ConditionTree{Column: column, Op: OpNotIn, Value: values}
}

// And combines non-nil trees with AND. nil arguments are skipped so
// callers can build conditions conditionally without nil-checking.
func And(trees ...*ConditionTree) *ConditionTree {
	return combine(And_, trees)
}

// Or combines non-nil trees with OR.
func Or(trees ...*ConditionTree) *ConditionTree {
	return combine(Or_, trees)
}

func combine(c Combinator, trees []*ConditionTree) *ConditionTree {
	var children []*ConditionTree
	for _, t := range trees {
		if t != nil {
			children = append(children, t)
		}
	}
	if len(children) == 0 {
		return nil
	}
	if len(children) == 1 {
		return children[0]
	}
	return &ConditionTree{Combinator: c, Children: children}
}

func (t *ConditionTree) isLeaf() bool { return t.Column != "" }

// render returns the SQL fragment and ordered bind arguments for this
// subtree. Branches are always parenthesized so precedence never
// depends on caller nesting order.
func (t *ConditionTree) render() (string, []any, error) {
	if t == nil {
		return "", nil, nil
	}
	if t.isLeaf() {
		return t.renderLeaf()
	}
	if len(t.Children) == 0 {
		return "", nil, nil
	}

	var parts []string
	var args []any
	for _, child := range t.Children {
		sql, childArgs, err := child.render()
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		args = append(args, childArgs...)
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	if len(parts) == 1 {
		return parts[0], args, nil
	}
	sep := fmt.Sprintf(" %s ", t.Combinator)
	return "(" + strings.Join(parts, sep) + ")", args, nil
}

func (t *ConditionTree) renderLeaf() (string, []any, error) {
	switch t.Op {
	case OpIsNull, OpNotNull:
		return fmt.Sprintf("%s %s", t.Column, t.Op), nil, nil
	case OpIn, OpNotIn:
		values, ok := t.Value.([]any)
		if !ok {
			return "", nil, fmt.Errorf("querybuilder: %s requires a value slice", t.Op)
		}
		if len(values) == 0 {
			// An empty IN-list matches nothing; an empty NOT IN
			// matches everything. Render a tautology/contradiction
			// instead of invalid SQL ("column IN ()").
			if t.Op == OpIn {
				return "1 = 0", nil, nil
			}
			return "1 = 1", nil, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		return fmt.Sprintf("%s %s (%s)", t.Column, t.Op, placeholders), values, nil
	default:
		if t.ValueColumn != "" {
			return fmt.Sprintf("%s %s %s", t.Column, t.Op, t.ValueColumn), nil, nil
		}
		return fmt.Sprintf("%s %s ?", t.Column, t.Op), []any{t.Value}, nil
	}
}
