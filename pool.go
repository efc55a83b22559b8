package bgmigration

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

type taskPool struct {
	pool *ants.Pool
}

func newTaskPool(size int) *taskPool {
	p, err := ants.NewPool(size)
	if err != nil {
		panic(fmt.Sprintf("can not create task pool of size %v: %v", size, err))
	}
	return &taskPool{pool: p}
}

// Submit run task in the pool, the returned Future resolves once task completes
func (p *taskPool) Submit(ctx context.Context, task func() (interface{}, error)) *Future {
	f := &Future{done: make(chan struct{})}
	err := p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				f.complete(nil, NewBatchError(ErrCodeGeneral, "panic in pooled task: %v", r))
			}
		}()
		ret, er := task()
		f.complete(ret, er)
	})
	if err != nil {
		DefaultLogger.Error(ctx, "submit task to pool failed, err:%v", err)
		f.complete(nil, NewBatchError(ErrCodeGeneral, "submit task to pool failed", err))
	}
	return f
}

func (p *taskPool) SetMaxSize(size int) {
	p.pool.Tune(size)
}

func (p *taskPool) Running() int {
	return p.pool.Running()
}

// Future the result of a task submitted to a pool
type Future struct {
	once   sync.Once
	done   chan struct{}
	result interface{}
	err    error
}

func (f *Future) complete(result interface{}, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

// Get blocks until the task completes
func (f *Future) Get() (interface{}, error) {
	<-f.done
	return f.result, f.err
}

// Done is closed once the task completes
func (f *Future) Done() <-chan struct{} {
	return f.done
}
