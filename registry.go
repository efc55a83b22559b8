package bgmigration

import (
	"sort"
	"sync"
)

// Extension lets a deployment override or supplement the default mutation of a job.
// Extensions are consulted in registration order when a job is first resolved.
// Returning ok=false keeps the mutation unchanged.
type Extension interface {
	Extend(desc *JobDescriptor, base Mutation) (m Mutation, ok bool)
}

// ExtensionFunc adapts a function to Extension
type ExtensionFunc func(desc *JobDescriptor, base Mutation) (Mutation, bool)

func (f ExtensionFunc) Extend(desc *JobDescriptor, base Mutation) (Mutation, bool) {
	return f(desc, base)
}

// OverrideMutation returns an Extension replacing the mutation of the named jobs
func OverrideMutation(m Mutation, jobNames ...string) Extension {
	names := map[string]bool{}
	for _, n := range jobNames {
		names[n] = true
	}
	return ExtensionFunc(func(desc *JobDescriptor, base Mutation) (Mutation, bool) {
		if names[desc.Name] {
			return m, true
		}
		return base, false
	})
}

// Registry maps job names to descriptors and resolves their mutations
type Registry struct {
	mu          sync.RWMutex
	dialect     Dialect
	descriptors map[string]*JobDescriptor
	aliases     map[string]string
	factories   map[string]MutationFactory
	extensions  []Extension
	resolved    map[string]Mutation
}

// NewRegistry creates a registry whose SQL mutations render for dialect
func NewRegistry(dialect Dialect) *Registry {
	return &Registry{
		dialect:     dialect,
		descriptors: map[string]*JobDescriptor{},
		aliases:     map[string]string{},
		factories:   builtinFactories(),
		resolved:    map[string]Mutation{},
	}
}

// Register register a job descriptor
func (r *Registry) Register(desc *JobDescriptor) BatchError {
	if err := desc.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	factory, ok := r.factories[desc.MutationKind()]
	if !ok {
		return NewBatchError(ErrCodeInvalidDescriptor, "job:%v uses unknown mutation:%v", desc.Name, desc.MutationKind())
	}
	if _, err := factory(desc, r.dialect); err != nil {
		return err
	}
	if _, ok := r.descriptors[desc.Name]; ok {
		return NewBatchError(ErrCodeGeneral, "job with name:%v has already been registered", desc.Name)
	}
	if _, ok := r.aliases[desc.Name]; ok {
		return NewBatchError(ErrCodeGeneral, "job name:%v is already used by an alias", desc.Name)
	}
	r.descriptors[desc.Name] = desc.clone()
	return nil
}

// Alias makes alias run exactly the job registered as target
func (r *Registry) Alias(alias, target string) BatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.descriptors[alias]; ok {
		return NewBatchError(ErrCodeGeneral, "job with name:%v has already been registered", alias)
	}
	if _, ok := r.aliases[alias]; ok {
		return NewBatchError(ErrCodeGeneral, "alias:%v has already been registered", alias)
	}
	if _, ok := r.descriptors[target]; !ok {
		return NewBatchError(ErrCodeJobNotFound, "can not alias:%v to unknown job:%v", alias, target)
	}
	r.aliases[alias] = target
	return nil
}

// Unregister unregister a job or an alias
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.aliases, name)
	delete(r.descriptors, name)
	delete(r.resolved, name)
}

// RegisterMutation adds a mutation kind that descriptors may name
func (r *Registry) RegisterMutation(kind string, factory MutationFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Extend adds a deployment extension, it applies to jobs resolved afterwards
func (r *Registry) Extend(ext Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions = append(r.extensions, ext)
}

// Lookup returns a copy of the descriptor registered under name, following aliases
func (r *Registry) Lookup(name string) (*JobDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return desc.clone(), true
}

func (r *Registry) lookup(name string) (*JobDescriptor, bool) {
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	desc, ok := r.descriptors[name]
	return desc, ok
}

// Resolve returns the descriptor and the mutation of a job. Aliases resolve to the mutation of their target
// while keeping their own progress, so the returned descriptor carries the requested name.
func (r *Registry) Resolve(name string) (*JobDescriptor, Mutation, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	desc, ok := r.lookup(name)
	if !ok {
		return nil, nil, NewBatchError(ErrCodeJobNotFound, "can not find job with name:%v", name)
	}
	ret := desc.clone()
	ret.Name = name
	if m, ok := r.resolved[desc.Name]; ok {
		return ret, m, nil
	}
	factory, ok := r.factories[desc.MutationKind()]
	if !ok {
		return nil, nil, NewBatchError(ErrCodeInvalidDescriptor, "job:%v uses unknown mutation:%v", desc.Name, desc.MutationKind())
	}
	m, err := factory(desc, r.dialect)
	if err != nil {
		return nil, nil, err
	}
	for _, ext := range r.extensions {
		if em, ok := ext.Extend(desc.clone(), m); ok && em != nil {
			m = em
		}
	}
	r.resolved[desc.Name] = m
	return ret, m, nil
}

// Names lists registered jobs and aliases in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descriptors)+len(r.aliases))
	for n := range r.descriptors {
		names = append(names, n)
	}
	for n := range r.aliases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dialect returns the dialect SQL mutations are rendered for
func (r *Registry) Dialect() Dialect {
	return r.dialect
}
