package bgmigration

import (
	"fmt"
	"time"
)

// JobBuilderFactory creates builders that register descriptors into a Registry
type JobBuilderFactory interface {
	Get(name string) JobBuilder
}

func NewJobBuilderFactory(registry *Registry) JobBuilderFactory {
	return &jobBuilderFactory{
		registry: registry,
	}
}

type jobBuilderFactory struct {
	registry *Registry
}

func (f *jobBuilderFactory) Get(name string) JobBuilder {
	if name == "" {
		panic("job name must not be empty")
	}
	return &jobBuilder{
		registry: f.registry,
		desc: JobDescriptor{
			Name:          name,
			BatchSize:     DefaultBatchSize,
			CursorColumns: []string{"id"},
		},
	}
}

// JobBuilder builds one JobDescriptor. Each former per-table job type is one chain of calls.
type JobBuilder interface {
	FeatureTag(tag string) JobBuilder
	Table(table string) JobBuilder
	Cursor(columns ...string) JobBuilder
	InnerBounds(min, max int64) JobBuilder
	CopyColumn(source, target string) JobBuilder
	Backfill(target, expression string) JobBuilder
	Noop() JobBuilder
	Mutation(kind string) JobBuilder
	BatchSize(batchSize int) JobBuilder
	SubBatchSize(subBatchSize int) JobBuilder
	Pause(interval time.Duration) JobBuilder
	Build() *JobDescriptor
	Register() BatchError
}

type jobBuilder struct {
	registry *Registry
	desc     JobDescriptor
}

func (b *jobBuilder) FeatureTag(tag string) JobBuilder {
	b.desc.FeatureTag = tag
	return b
}

func (b *jobBuilder) Table(table string) JobBuilder {
	b.desc.TargetTable = table
	return b
}

func (b *jobBuilder) Cursor(columns ...string) JobBuilder {
	b.desc.CursorColumns = append([]string(nil), columns...)
	return b
}

func (b *jobBuilder) InnerBounds(min, max int64) JobBuilder {
	b.desc.InnerMin = min
	b.desc.InnerMax = max
	return b
}

func (b *jobBuilder) CopyColumn(source, target string) JobBuilder {
	b.desc.Mutation = MutationCopyColumn
	b.desc.SourceColumns = append(b.desc.SourceColumns, source)
	b.desc.TargetColumns = append(b.desc.TargetColumns, target)
	return b
}

func (b *jobBuilder) Backfill(target, expression string) JobBuilder {
	b.desc.Mutation = MutationBackfill
	b.desc.TargetColumns = []string{target}
	b.desc.Expression = expression
	return b
}

func (b *jobBuilder) Noop() JobBuilder {
	b.desc.Mutation = MutationNoop
	return b
}

func (b *jobBuilder) Mutation(kind string) JobBuilder {
	b.desc.Mutation = kind
	return b
}

func (b *jobBuilder) BatchSize(batchSize int) JobBuilder {
	b.desc.BatchSize = batchSize
	return b
}

func (b *jobBuilder) SubBatchSize(subBatchSize int) JobBuilder {
	b.desc.SubBatchSize = subBatchSize
	return b
}

func (b *jobBuilder) Pause(interval time.Duration) JobBuilder {
	b.desc.PauseInterval = interval
	return b
}

// Build returns the descriptor, it panics on a malformed descriptor
func (b *jobBuilder) Build() *JobDescriptor {
	if err := b.desc.Validate(); err != nil {
		panic(fmt.Sprintf("invalid job descriptor:%v, err:%v", b.desc.Name, err))
	}
	return b.desc.clone()
}

// Register validates the descriptor and adds it to the registry of the factory
func (b *jobBuilder) Register() BatchError {
	if b.registry == nil {
		return NewBatchError(ErrCodeGeneral, "job builder of:%v has no registry", b.desc.Name)
	}
	return b.registry.Register(b.desc.clone())
}
