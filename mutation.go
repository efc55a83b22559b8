package bgmigration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// built-in mutation kinds
const (
	MutationNoop       = "noop"
	MutationCopyColumn = "copy_column"
	MutationBackfill   = "backfill"
)

// Mutation writes one range of a job inside the transaction of the batch.
// Implementations must be safe to re-run on rows they already touched.
type Mutation interface {
	Apply(ctx context.Context, tx interface{}, desc *JobDescriptor, r Range) (int64, error)
}

// MutationFunc adapts a function to Mutation
type MutationFunc func(ctx context.Context, tx interface{}, desc *JobDescriptor, r Range) (int64, error)

func (f MutationFunc) Apply(ctx context.Context, tx interface{}, desc *JobDescriptor, r Range) (int64, error) {
	return f(ctx, tx, desc, r)
}

// MutationFactory builds the mutation of a descriptor for a dialect
type MutationFactory func(desc *JobDescriptor, dialect Dialect) (Mutation, BatchError)

// SQLExecutor is satisfied by *sql.Tx and *sql.DB
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type noopMutation struct{}

// NoopMutation writes nothing and succeeds for every range. It keeps superseded jobs schedulable.
var NoopMutation Mutation = noopMutation{}

func (noopMutation) Apply(context.Context, interface{}, *JobDescriptor, Range) (int64, error) {
	return 0, nil
}

func builtinFactories() map[string]MutationFactory {
	return map[string]MutationFactory{
		MutationNoop: func(*JobDescriptor, Dialect) (Mutation, BatchError) {
			return NoopMutation, nil
		},
		MutationCopyColumn: newCopyColumnMutation,
		MutationBackfill:   newBackfillMutation,
	}
}

// sqlMutation runs one UPDATE statement per range
type sqlMutation struct {
	dialect Dialect
	build   func(desc *JobDescriptor, r Range, args *argList) string
}

func (m *sqlMutation) Apply(ctx context.Context, tx interface{}, desc *JobDescriptor, r Range) (int64, error) {
	exec, ok := tx.(SQLExecutor)
	if !ok {
		return 0, fmt.Errorf("transaction of type %T can not execute sql", tx)
	}
	args := &argList{dialect: m.dialect}
	query := m.build(desc, r, args)
	res, err := exec.ExecContext(ctx, query, args.args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func newCopyColumnMutation(desc *JobDescriptor, dialect Dialect) (Mutation, BatchError) {
	if len(desc.SourceColumns) == 0 || len(desc.SourceColumns) != len(desc.TargetColumns) {
		return nil, NewBatchError(ErrCodeInvalidDescriptor, "copy_column job:%v needs matching source and target columns, got %v -> %v", desc.Name, desc.SourceColumns, desc.TargetColumns)
	}
	return &sqlMutation{
		dialect: dialect,
		build: func(desc *JobDescriptor, r Range, args *argList) string {
			q := dialect.QuoteIdent
			sets := make([]string, len(desc.TargetColumns))
			pending := make([]string, len(desc.TargetColumns))
			for i, target := range desc.TargetColumns {
				source := desc.SourceColumns[i]
				sets[i] = fmt.Sprintf("%s = COALESCE(%s, %s)", q(target), q(target), q(source))
				pending[i] = fmt.Sprintf("(%s IS NULL AND %s IS NOT NULL)", q(target), q(source))
			}
			return fmt.Sprintf("UPDATE %s SET %s WHERE %s AND (%s)",
				q(desc.TargetTable), strings.Join(sets, ", "), rangePredicate(desc, r, args), strings.Join(pending, " OR "))
		},
	}, nil
}

func newBackfillMutation(desc *JobDescriptor, dialect Dialect) (Mutation, BatchError) {
	if len(desc.TargetColumns) != 1 || desc.Expression == "" {
		return nil, NewBatchError(ErrCodeInvalidDescriptor, "backfill job:%v needs one target column and an expression", desc.Name)
	}
	return &sqlMutation{
		dialect: dialect,
		build: func(desc *JobDescriptor, r Range, args *argList) string {
			q := dialect.QuoteIdent
			target := q(desc.TargetColumns[0])
			return fmt.Sprintf("UPDATE %s SET %s = (%s) WHERE %s AND %s IS NULL",
				q(desc.TargetTable), target, desc.Expression, rangePredicate(desc, r, args), target)
		},
	}, nil
}

// rangePredicate renders the lexicographic range condition over the cursor columns
func rangePredicate(desc *JobDescriptor, r Range, args *argList) string {
	q := args.dialect.QuoteIdent
	if !desc.Composite() {
		col := q(desc.CursorColumns[0])
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, args.add(r.Start[0]), args.add(r.End[0]))
	}
	outer, inner := q(desc.CursorColumns[0]), q(desc.CursorColumns[1])
	if r.Start[0] == r.End[0] {
		return fmt.Sprintf("%s = %s AND %s BETWEEN %s AND %s",
			outer, args.add(r.Start[0]), inner, args.add(r.Start[1]), args.add(r.End[1]))
	}
	lower := fmt.Sprintf("(%s > %s OR (%s = %s AND %s >= %s))",
		outer, args.add(r.Start[0]), outer, args.add(r.Start[0]), inner, args.add(r.Start[1]))
	upper := fmt.Sprintf("(%s < %s OR (%s = %s AND %s <= %s))",
		outer, args.add(r.End[0]), outer, args.add(r.End[0]), inner, args.add(r.End[1]))
	return lower + " AND " + upper
}
