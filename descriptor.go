package bgmigration

import (
	"time"
)

const (
	// DefaultBatchSize default number of keys covered by one batch
	DefaultBatchSize = 1000
)

// JobDescriptor is the static description of a batched migration job.
// It is immutable once a run of the job has started.
type JobDescriptor struct {
	Name          string        `yaml:"name" json:"name"`
	FeatureTag    string        `yaml:"feature_tag" json:"feature_tag"`
	TargetTable   string        `yaml:"target_table" json:"target_table"`
	SourceColumns []string      `yaml:"source_columns,omitempty" json:"source_columns,omitempty"`
	TargetColumns []string      `yaml:"target_columns,omitempty" json:"target_columns,omitempty"`
	CursorColumns []string      `yaml:"cursor_columns" json:"cursor_columns"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	SubBatchSize  int           `yaml:"sub_batch_size,omitempty" json:"sub_batch_size,omitempty"`
	PauseInterval time.Duration `yaml:"pause_interval,omitempty" json:"pause_interval,omitempty"`
	Mutation      string        `yaml:"mutation,omitempty" json:"mutation,omitempty"`
	Expression    string        `yaml:"expression,omitempty" json:"expression,omitempty"`
	InnerMin      int64         `yaml:"inner_min,omitempty" json:"inner_min,omitempty"`
	InnerMax      int64         `yaml:"inner_max,omitempty" json:"inner_max,omitempty"`
}

// MutationKind returns the mutation key, an empty key resolves to the no-op mutation
func (d *JobDescriptor) MutationKind() string {
	if d.Mutation == "" {
		return MutationNoop
	}
	return d.Mutation
}

// EffectiveSubBatchSize returns the number of keys written by one statement
func (d *JobDescriptor) EffectiveSubBatchSize() int {
	if d.SubBatchSize <= 0 || d.SubBatchSize > d.BatchSize {
		return d.BatchSize
	}
	return d.SubBatchSize
}

// Composite reports whether the descriptor iterates over a two-column cursor
func (d *JobDescriptor) Composite() bool {
	return len(d.CursorColumns) == 2
}

// Validate checks the descriptor, a malformed descriptor never reaches batch execution
func (d *JobDescriptor) Validate() BatchError {
	if d.Name == "" {
		return NewBatchError(ErrCodeInvalidDescriptor, "job name must not be empty")
	}
	if d.BatchSize <= 0 {
		return NewBatchError(ErrCodeInvalidDescriptor, "batch size of job:%v must be greater than 0, got:%v", d.Name, d.BatchSize)
	}
	if d.SubBatchSize < 0 {
		return NewBatchError(ErrCodeInvalidDescriptor, "sub batch size of job:%v must not be negative", d.Name)
	}
	if len(d.CursorColumns) != 1 && len(d.CursorColumns) != 2 {
		return NewBatchError(ErrCodeInvalidDescriptor, "job:%v must have 1 or 2 cursor columns, got:%v", d.Name, len(d.CursorColumns))
	}
	for _, c := range d.CursorColumns {
		if c == "" {
			return NewBatchError(ErrCodeInvalidDescriptor, "job:%v has an empty cursor column", d.Name)
		}
	}
	if d.Composite() && d.InnerMax < d.InnerMin {
		return NewBatchError(ErrCodeInvalidDescriptor, "job:%v inner bounds are inverted: %v > %v", d.Name, d.InnerMin, d.InnerMax)
	}
	if d.MutationKind() != MutationNoop && d.TargetTable == "" {
		return NewBatchError(ErrCodeInvalidDescriptor, "job:%v with mutation:%v must name a target table", d.Name, d.MutationKind())
	}
	return nil
}

// ValidateCursor checks that c matches the cursor columns of the descriptor
// and, for bounded composite cursors, that its inner value lies within the bounds
func (d *JobDescriptor) ValidateCursor(c Cursor) BatchError {
	if len(c) != len(d.CursorColumns) {
		return NewBatchError(ErrCodeInvalidDescriptor, "cursor %v does not match cursor columns %v of job:%v", c, d.CursorColumns, d.Name)
	}
	if d.Composite() {
		if lo, hi, bounded := d.innerBounds(); bounded && (c[1] < lo || c[1] > hi) {
			return NewBatchError(ErrCodeInvalidDescriptor, "inner value of cursor %v is outside [%v, %v] of job:%v", c, lo, hi, d.Name)
		}
	}
	return nil
}

// Columns returns every column referenced by the descriptor
func (d *JobDescriptor) Columns() []string {
	cols := make([]string, 0, len(d.CursorColumns)+len(d.SourceColumns)+len(d.TargetColumns))
	seen := map[string]bool{}
	for _, group := range [][]string{d.CursorColumns, d.SourceColumns, d.TargetColumns} {
		for _, c := range group {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

func (d *JobDescriptor) clone() *JobDescriptor {
	c := *d
	c.SourceColumns = append([]string(nil), d.SourceColumns...)
	c.TargetColumns = append([]string(nil), d.TargetColumns...)
	c.CursorColumns = append([]string(nil), d.CursorColumns...)
	return &c
}
