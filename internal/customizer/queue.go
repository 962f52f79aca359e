package customizer

import (
	"context"
	"sync"
)

// Customization changes a stack. It may enqueue further customizations
// through d.Scope(ctx); those run right after it, before any sibling.
type Customization func(ctx context.Context, s *Stack) error

// task is a queued customization. Root tasks were enqueued on the
// customizer itself; they are the ones replayed on reload, and replaying
// them enqueues their children again.
type task struct {
	label string
	fn    Customization
	root  bool
}

// taskQueue is a thread-safe FIFO of root customizations.
type taskQueue struct {
	mu    sync.Mutex
	tasks []task
}

// Enqueue adds a root task to the back of the queue.
func (q *taskQueue) Enqueue(label string, fn Customization) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task{label: label, fn: fn, root: true})
}

// Take removes and returns every queued task.
func (q *taskQueue) Take() []task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.tasks
	q.tasks = nil
	return out
}

// Restore puts tasks back at the front of the queue.
func (q *taskQueue) Restore(tasks []task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(append([]task{}, tasks...), q.tasks...)
}

// Len returns the current queue length.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type childrenKey struct{}

// children collects what one running task enqueues.
type children struct {
	mu    sync.Mutex
	tasks []task
}

func (c *children) add(label string, fn Customization) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, task{label: label, fn: fn})
}

func (c *children) take() []task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.tasks
	c.tasks = nil
	return out
}

func childrenFrom(ctx context.Context) (*children, bool) {
	c, ok := ctx.Value(childrenKey{}).(*children)
	return c, ok && c != nil
}

// drain runs work on s depth-first until nothing is left, and returns the
// root tasks whose whole subtree ran. It stops at the first error; the
// root that was running then is not returned. Roots enqueued on the
// customizer meanwhile stay queued.
func drain(ctx context.Context, s *Stack, work []task) ([]task, error) {
	var (
		roots   []task
		current *task
	)
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return roots, err
		}
		t := work[0]
		work[0] = task{}
		work = work[1:]

		if t.root {
			if current != nil {
				roots = append(roots, *current)
			}
			current = &t
		}
		batch := &children{}
		if err := t.fn(context.WithValue(ctx, childrenKey{}, batch), s); err != nil {
			return roots, &Error{Customization: t.label, Err: err}
		}
		work = append(batch.take(), work...)
	}
	if current != nil {
		roots = append(roots, *current)
	}
	return roots, nil
}
