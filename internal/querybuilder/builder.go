// Package querybuilder constructs parameter-bound SQL statements from a
// structured description (tables, joins, a condition tree, projections,
// grouping, ordering, limit) and executes them via internal/driver. No
// caller ever interpolates a value into SQL text; every value flows
// through a bind-parameter slot.
package querybuilder

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/akonadi-go/akonadi/internal/driver"
)

// StmtType is the kind of statement a Builder assembles.
type StmtType int

const (
	Select StmtType = iota
	Insert
	Update
	Delete
)

// JoinType orders join strictness: InnerJoin is stricter than LeftJoin.
// When the same table is joined twice, the stricter type wins and the
// ON-conditions are merged with AND (spec §4.1).
type JoinType int

const (
	LeftJoin JoinType = iota
	InnerJoin
)

func (j JoinType) sql() string {
	if j == InnerJoin {
		return "INNER JOIN"
	}
	return "LEFT JOIN"
}

// Join describes one joined table and its ON-condition tree.
type Join struct {
	Table string
	Type  JoinType
	On    *ConditionTree
}

// Sort is one ORDER BY term.
type Sort struct {
	Column string
	Desc   bool
}

// Builder accumulates a structured statement description and emits
// parameter-bound SQL for it.
type Builder struct {
	stmtType StmtType
	table    string
	joins    []Join

	columns  []string // projection (Select) or column list (Insert/Update)
	distinct bool
	groupBy  []string
	having   *ConditionTree
	orderBy  []Sort
	limit    int
	hasLimit bool

	where *ConditionTree

	// Insert/Update payload: column -> bound value.
	values map[string]any
	// Ordered keys for deterministic SQL (map iteration order is random).
	valueOrder []string
}

// New starts a Builder of the given type against the given primary table.
func New(stmtType StmtType, table string) *Builder {
	return &Builder{stmtType: stmtType, table: table, values: map[string]any{}}
}

// Select sets the projected columns (ignored for non-Select statements).
func (b *Builder) Select(columns ...string) *Builder {
	b.columns = columns
	return b
}

// Distinct adds SELECT DISTINCT.
func (b *Builder) Distinct() *Builder {
	b.distinct = true
	return b
}

// Join adds a joined table. If the same table was already joined, the
// stricter JoinType wins and the ON-trees are combined with AND (spec
// §4.1 "if a table is joined twice, the strictest join wins").
func (b *Builder) Join(table string, joinType JoinType, on *ConditionTree) *Builder {
	for i := range b.joins {
		if b.joins[i].Table == table {
			if joinType == InnerJoin {
				b.joins[i].Type = InnerJoin
			}
			b.joins[i].On = And(b.joins[i].On, on)
			return b
		}
	}
	b.joins = append(b.joins, Join{Table: table, Type: joinType, On: on})
	return b
}

// Where sets the WHERE condition tree.
func (b *Builder) Where(tree *ConditionTree) *Builder {
	b.where = tree
	return b
}

// Having sets the HAVING condition tree.
func (b *Builder) Having(tree *ConditionTree) *Builder {
	b.having = tree
	return b
}

// GroupBy sets the GROUP BY column list.
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.groupBy = columns
	return b
}

// OrderBy adds one ORDER BY term.
func (b *Builder) OrderBy(column string, desc bool) *Builder {
	b.orderBy = append(b.orderBy, Sort{Column: column, Desc: desc})
	return b
}

// Limit bounds the result set to n rows.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	b.hasLimit = true
	return b
}

// Set stages a column=value assignment for Insert/Update.
func (b *Builder) Set(column string, value any) *Builder {
	if _, exists := b.values[column]; !exists {
		b.valueOrder = append(b.valueOrder, column)
	}
	b.values[column] = value
	return b
}

// build assembles the SQL text and the ordered bind arguments.
func (b *Builder) build(d *driver.Driver) (string, []any, error) {
	var sb strings.Builder
	var args []any

	switch b.stmtType {
	case Select:
		sb.WriteString("SELECT ")
		if b.distinct {
			sb.WriteString("DISTINCT ")
		}
		if len(b.columns) == 0 {
			sb.WriteString("*")
		} else {
			sb.WriteString(strings.Join(b.columns, ", "))
		}
		sb.WriteString(" FROM ")
		sb.WriteString(b.table)
		for _, j := range b.joins {
			sb.WriteString(" ")
			sb.WriteString(j.Type.sql())
			sb.WriteString(" ")
			sb.WriteString(j.Table)
			if j.On != nil {
				onSQL, onArgs, err := j.On.render()
				if err != nil {
					return "", nil, err
				}
				sb.WriteString(" ON ")
				sb.WriteString(onSQL)
				args = append(args, onArgs...)
			}
		}
		if b.where != nil {
			whereSQL, whereArgs, err := b.where.render()
			if err != nil {
				return "", nil, err
			}
			if whereSQL != "" {
				sb.WriteString(" WHERE ")
				sb.WriteString(whereSQL)
				args = append(args, whereArgs...)
			}
		}
		if len(b.groupBy) > 0 {
			sb.WriteString(" GROUP BY ")
			sb.WriteString(strings.Join(b.groupBy, ", "))
		}
		if b.having != nil {
			havingSQL, havingArgs, err := b.having.render()
			if err != nil {
				return "", nil, err
			}
			if havingSQL != "" {
				sb.WriteString(" HAVING ")
				sb.WriteString(havingSQL)
				args = append(args, havingArgs...)
			}
		}
		if len(b.orderBy) > 0 {
			terms := make([]string, len(b.orderBy))
			for i, s := range b.orderBy {
				dir := "ASC"
				if s.Desc {
					dir = "DESC"
				}
				terms[i] = fmt.Sprintf("%s %s", s.Column, dir)
			}
			sb.WriteString(" ORDER BY ")
			sb.WriteString(strings.Join(terms, ", "))
		}
		if b.hasLimit {
			sb.WriteString(" ")
			sb.WriteString(d.LimitClause(b.limit))
		}

	case Insert:
		sb.WriteString("INSERT INTO ")
		sb.WriteString(b.table)
		sb.WriteString(" (")
		sb.WriteString(strings.Join(b.valueOrder, ", "))
		sb.WriteString(") VALUES (")
		placeholders := make([]string, len(b.valueOrder))
		for i, col := range b.valueOrder {
			placeholders[i] = "?"
			args = append(args, b.values[col])
		}
		sb.WriteString(strings.Join(placeholders, ", "))
		sb.WriteString(")")

	case Update:
		sb.WriteString("UPDATE ")
		sb.WriteString(b.table)
		sb.WriteString(" SET ")
		sets := make([]string, len(b.valueOrder))
		for i, col := range b.valueOrder {
			sets[i] = col + " = ?"
			args = append(args, b.values[col])
		}
		sb.WriteString(strings.Join(sets, ", "))
		if b.where != nil {
			whereSQL, whereArgs, err := b.where.render()
			if err != nil {
				return "", nil, err
			}
			if whereSQL != "" {
				sb.WriteString(" WHERE ")
				sb.WriteString(whereSQL)
				args = append(args, whereArgs...)
			}
		}

	case Delete:
		sb.WriteString("DELETE FROM ")
		sb.WriteString(b.table)
		if b.where != nil {
			whereSQL, whereArgs, err := b.where.render()
			if err != nil {
				return "", nil, err
			}
			if whereSQL != "" {
				sb.WriteString(" WHERE ")
				sb.WriteString(whereSQL)
				args = append(args, whereArgs...)
			}
		}
	}

	return sb.String(), args, nil
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Exec assembles and runs the statement against conn (usually a *sql.Tx
// supplied by the transaction manager), returning the sql.Result for
// Insert/Update/Delete. Select statements should use Query instead.
func (b *Builder) Exec(ctx context.Context, d *driver.Driver, conn Execer, args ...any) (sql.Result, error) {
	sqlText, boundArgs, err := b.build(d)
	if err != nil {
		return nil, driver.NewQueryError(driver.ErrBind, sqlText, err)
	}
	boundArgs = append(boundArgs, args...)
	res, err := conn.ExecContext(ctx, sqlText, boundArgs...)
	if err != nil {
		return nil, driver.NewQueryError(driver.ErrExec, sqlText, err)
	}
	return res, nil
}

// Query assembles and runs a Select statement, returning *sql.Rows.
func (b *Builder) Query(ctx context.Context, d *driver.Driver, conn Execer, args ...any) (*sql.Rows, error) {
	sqlText, boundArgs, err := b.build(d)
	if err != nil {
		return nil, driver.NewQueryError(driver.ErrBind, sqlText, err)
	}
	boundArgs = append(boundArgs, args...)
	rows, err := conn.QueryContext(ctx, sqlText, boundArgs...)
	if err != nil {
		return nil, driver.NewQueryError(driver.ErrExec, sqlText, err)
	}
	return rows, nil
}

// SQL returns the rendered statement text and bind arguments without
// executing it — useful for tests and for EXPLAIN-style diagnostics.
func (b *Builder) SQL(d *driver.Driver) (string, []any, error) {
	return b.build(d)
}
