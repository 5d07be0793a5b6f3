// Package prefetch keeps a bounded lookahead queue of asynchronous loads over
// one split of a dataset.
//
// A Fetcher submits loads to a fixed pool of goroutines in the order the
// split will be consumed, and Get hands them back in exactly that order,
// blocking only on the load at the head of the queue. When the queue drops
// below a low-water mark it is topped back up to its full depth.
//
// A Fetcher is driven by a single consumer goroutine: Get, Terminate and Join
// must not be called concurrently with each other.
package prefetch

import (
	"math/rand"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/gomlx/gomlx/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// DefaultDepth is the number of loads kept in flight after a refill.
	DefaultDepth = 512

	// DefaultLowWater is the queue length below which Get refills.
	DefaultLowWater = 400
)

var (
	// ErrOutOfOrder means the load at the head of the queue is not for the
	// index the cursor expects. The queue is corrupt and iteration can't go on.
	ErrOutOfOrder = errors.New("prefetch: dequeued load does not match the expected index")

	// ErrClosed is returned by Get after Terminate.
	ErrClosed = errors.New("prefetch: fetcher terminated")

	// ErrEmptySplit is returned by Get when the cursor has nothing to iterate.
	ErrEmptySplit = errors.New("prefetch: split is empty")

	// ErrNotTerminated is returned by Join if Terminate was never called.
	ErrNotTerminated = errors.New("prefetch: Join called before Terminate")
)

// Cursor is the iteration state of one split: the order items are served in
// and the position of the next one. The Fetcher advances Pos and replaces
// Index with the order of the next epoch on every wraparound.
type Cursor struct {
	Index []int
	Pos   int
}

// Config configures a Fetcher. Zero values take the defaults.
type Config struct {
	// Name is used in logs, usually the split name.
	Name string

	// Workers is the size of the load pool. Defaults to runtime.NumCPU().
	Workers int

	// Depth and LowWater default to DefaultDepth and DefaultLowWater.
	Depth, LowWater int

	// Shuffle reshuffles the order at the start of every new epoch.
	Shuffle bool

	// Rand is used for shuffling. Defaults to a time-seeded source.
	Rand *rand.Rand
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Depth <= 0 {
		c.Depth = DefaultDepth
	}
	if c.LowWater <= 0 {
		c.LowWater = min(DefaultLowWater, c.Depth)
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return c
}

// LoadFunc loads the item with the given index. It is called from the pool
// goroutines, so it must be safe for concurrent use.
type LoadFunc[T any] func(ix int) (T, error)

// Item is one result handed out by Get.
type Item[T any] struct {
	Value T
	Ix    int

	// Wrapped is set on the item that completes a pass over the split.
	Wrapped bool
}

type task[T any] struct {
	ix    int
	value T
	err   error
	done  chan struct{}
}

// Fetcher prefetches the items of one split. See the package documentation.
type Fetcher[T any] struct {
	cfg    Config
	cursor *Cursor
	load   LoadFunc[T]

	tasks   chan *task[T]
	fifo    []*task[T]
	stopped *xsync.Latch

	terminated bool

	// Producer side: order being submitted and position in it.
	order []int
	pos   int

	// epochs are the orders the producer has moved on to that the cursor has
	// not reached yet, oldest first.
	epochs [][]int
}

// New creates a Fetcher over cursor and starts its worker pool. The cursor is
// shared with the caller, who may read it but must not modify it while the
// Fetcher is running.
func New[T any](cursor *Cursor, load func(ix int) (T, error), cfg Config) (*Fetcher[T], error) {
	if cursor == nil {
		return nil, errors.New("prefetch: cursor cannot be nil")
	}
	if load == nil {
		return nil, errors.New("prefetch: load function cannot be nil")
	}
	cfg = cfg.withDefaults()
	if cfg.LowWater > cfg.Depth {
		return nil, errors.Errorf("prefetch: low-water mark %d exceeds depth %d", cfg.LowWater, cfg.Depth)
	}

	f := &Fetcher[T]{
		cfg:     cfg,
		cursor:  cursor,
		load:    load,
		tasks:   make(chan *task[T], cfg.Depth),
		stopped: xsync.NewLatch(),
	}
	var wg sync.WaitGroup
	wg.Add(cfg.Workers)
	for range cfg.Workers {
		go func() {
			defer wg.Done()
			for t := range f.tasks {
				t.value, t.err = f.load(t.ix)
				close(t.done)
			}
		}()
	}
	go func() {
		wg.Wait()
		f.stopped.Trigger()
	}()
	return f, nil
}

// Pending is the number of loads queued or in flight.
func (f *Fetcher[T]) Pending() int { return len(f.fifo) }

// Running reports whether any pool goroutine is still alive.
func (f *Fetcher[T]) Running() bool { return !f.stopped.Test() }

// refill tops the queue up to the configured depth. Submission never blocks:
// the task channel has room for a full queue.
func (f *Fetcher[T]) refill() {
	if len(f.fifo) == 0 {
		f.pos = f.cursor.Pos
		f.order = slices.Clone(f.cursor.Index)
		f.epochs = f.epochs[:0]
	}
	n := f.cfg.Depth - len(f.fifo)
	for range n {
		ix := f.order[f.pos]
		if f.pos+1 >= len(f.order) {
			f.pos = 0
			if f.cfg.Shuffle {
				f.order = slices.Clone(f.order)
				f.cfg.Rand.Shuffle(len(f.order), func(i, j int) {
					f.order[i], f.order[j] = f.order[j], f.order[i]
				})
			}
			f.epochs = append(f.epochs, f.order)
		} else {
			f.pos++
		}
		t := &task[T]{ix: ix, done: make(chan struct{})}
		f.fifo = append(f.fifo, t)
		f.tasks <- t
	}
	klog.V(2).Infof("%s: submitted %d loads, %d pending", f.cfg.Name, n, len(f.fifo))
}

// advance moves the cursor past the next item and returns its index, and
// whether the move completed a pass over the split.
func (f *Fetcher[T]) advance() (ix int, wrapped bool) {
	c := f.cursor
	ix = c.Index[c.Pos]
	c.Pos++
	if c.Pos >= len(c.Index) {
		c.Pos = 0
		c.Index = f.epochs[0]
		f.epochs = f.epochs[1:]
		wrapped = true
	}
	return ix, wrapped
}

// Get returns the next item of the split, refilling the queue first if it is
// below the low-water mark. It blocks until the head load completes.
func (f *Fetcher[T]) Get() (item Item[T], err error) {
	if f.terminated {
		return item, errors.Wrapf(ErrClosed, "%s", f.cfg.Name)
	}
	if len(f.cursor.Index) == 0 {
		return item, errors.Wrapf(ErrEmptySplit, "%s", f.cfg.Name)
	}
	if len(f.fifo) < f.cfg.LowWater {
		f.refill()
	}

	ix, wrapped := f.advance()
	head := f.fifo[0]
	f.fifo[0] = nil
	f.fifo = f.fifo[1:]
	<-head.done

	if head.ix != ix {
		return item, errors.Wrapf(ErrOutOfOrder, "%s: expected index %d, got %d", f.cfg.Name, ix, head.ix)
	}
	if head.err != nil {
		return item, errors.WithMessagef(head.err, "%s: loading index %d", f.cfg.Name, ix)
	}
	return Item[T]{Value: head.value, Ix: ix, Wrapped: wrapped}, nil
}

// Terminate waits for every pending load to finish, discards the results and
// stops the worker pool. It is safe to call more than once.
func (f *Fetcher[T]) Terminate() {
	if f.terminated {
		return
	}
	f.terminated = true
	for _, t := range f.fifo {
		<-t.done
	}
	f.fifo = nil
	f.epochs = nil
	close(f.tasks)
	klog.V(1).Infof("%s: terminated", f.cfg.Name)
}

// Join waits for the worker pool to exit after Terminate.
func (f *Fetcher[T]) Join() error {
	if !f.terminated {
		return errors.Wrapf(ErrNotTerminated, "%s", f.cfg.Name)
	}
	f.stopped.Wait()
	klog.V(1).Infof("%s: joined", f.cfg.Name)
	return nil
}

// Close terminates and joins the Fetcher.
func (f *Fetcher[T]) Close() error {
	f.Terminate()
	return f.Join()
}
