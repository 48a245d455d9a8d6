package bulkbatch

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/panjf2000/ants/v2"
)

type taskPool struct {
	pool *ants.Pool
}

func newTaskPool(size int) (*taskPool, error) {
	pool, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &taskPool{
		pool: pool,
	}, nil
}

// Future result of a submitted task
type Future interface {
	// Get blocks until the task finished and returns its error
	Get() error
	// Done is closed when the task finished
	Done() <-chan struct{}
}

type futureImpl struct {
	done chan struct{}
	err  error
}

func (f *futureImpl) Get() error {
	<-f.done
	return f.err
}

func (f *futureImpl) Done() <-chan struct{} {
	return f.done
}

// Submit runs task on a pool worker. A panic in task or a pool that was released is reported by the Future.
func (pool *taskPool) Submit(ctx context.Context, task func(ctx context.Context) error) Future {
	f := &futureImpl{done: make(chan struct{})}
	err := pool.pool.Submit(func() {
		defer close(f.done)
		defer func() {
			if er := recover(); er != nil {
				logger.Error(ctx, "panic in pooled task, err:%v, stack:%v", er, string(debug.Stack()))
				f.err = fmt.Errorf("panic:%v", er)
			}
		}()
		f.err = task(ctx)
	})
	if err != nil {
		f.err = err
		close(f.done)
	}
	return f
}

// Free number of idle workers
func (pool *taskPool) Free() int {
	return pool.pool.Free()
}

func (pool *taskPool) Release() {
	pool.pool.Release()
}
