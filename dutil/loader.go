package dutil

import (
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// Dataset is a random access collection of items.
type Dataset interface {
	Len() int
	Item(idx int) (interface{}, error)
	DType() reflect.Type
}

// ErrLoaderClosed is returned by Next after Close.
var ErrLoaderClosed = errors.New("data loader closed")

// Options configures a DataLoader.
type Options struct {
	Workers  int // number of goroutines loading items
	Prefetch int // number of batches loaded ahead of the consumer
}

// DefaultOptions loads with one worker and one batch ahead.
func DefaultOptions() Options {
	return Options{Workers: 1, Prefetch: 1}
}

type result struct {
	items []interface{}
	err   error
}

// DataLoader loads batches of items in a worker pool.
//
// Batches are handed to the consumer in sampler order through a queue of
// bounded depth: when the consumer is slower than the workers, the queue
// fills up and workers block; when it is faster, Next blocks.
type DataLoader struct {
	ds      Dataset
	sampler *BatchSampler
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan chan result
	jobs   chan job
	wg     sync.WaitGroup

	pending chan result // next batch when HasNext has peeked
	done    bool
	closed  bool
}

type job struct {
	indices []int
	out     chan result
}

// NewDataLoader creates a DataLoader and starts loading the first pass.
func NewDataLoader(ds Dataset, s *BatchSampler, optsOpt ...Options) (*DataLoader, error) {
	if ds == nil || s == nil {
		return nil, errors.New("nil dataset or sampler")
	}
	opts := DefaultOptions()
	if len(optsOpt) > 0 {
		opts = optsOpt[0]
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Prefetch < 1 {
		opts.Prefetch = 1
	}

	dl := &DataLoader{
		ds:      ds,
		sampler: s,
		opts:    opts,
	}
	dl.start()

	return dl, nil
}

func (dl *DataLoader) start() {
	dl.ctx, dl.cancel = context.WithCancel(context.Background())
	dl.queue = make(chan chan result, dl.opts.Prefetch)
	dl.jobs = make(chan job)
	dl.pending = nil
	dl.done = false

	for w := 0; w < dl.opts.Workers; w++ {
		dl.wg.Add(1)
		go dl.work()
	}

	dl.wg.Add(1)
	go dl.dispatch()
}

// dispatch feeds sampler batches to workers and their result slots to the
// queue, in order.
func (dl *DataLoader) dispatch() {
	defer dl.wg.Done()
	defer close(dl.queue)
	defer close(dl.jobs)

	for dl.sampler.HasNext() {
		indices, err := dl.sampler.Next()
		out := make(chan result, 1)
		if err != nil {
			out <- result{err: err}
		}

		select {
		case dl.queue <- out:
		case <-dl.ctx.Done():
			return
		}

		if err != nil {
			return
		}

		select {
		case dl.jobs <- job{indices: indices, out: out}:
		case <-dl.ctx.Done():
			return
		}
	}
}

func (dl *DataLoader) work() {
	defer dl.wg.Done()
	for j := range dl.jobs {
		items := make([]interface{}, 0, len(j.indices))
		var err error
		for _, idx := range j.indices {
			if dl.ctx.Err() != nil {
				err = dl.ctx.Err()
				break
			}
			item, e := dl.ds.Item(idx)
			if e != nil {
				err = errors.Wrapf(e, "loading item %d", idx)
				break
			}
			items = append(items, item)
		}
		j.out <- result{items: items, err: err}
	}
}

// HasNext reports whether another batch is available in the current pass.
// It blocks until the next batch slot is known.
func (dl *DataLoader) HasNext() bool {
	if dl.closed || dl.done {
		return false
	}
	if dl.pending != nil {
		return true
	}
	out, ok := <-dl.queue
	if !ok {
		dl.done = true
		return false
	}
	dl.pending = out

	return true
}

// Next returns the next batch of items.
func (dl *DataLoader) Next() (interface{}, error) {
	if dl.closed {
		return nil, ErrLoaderClosed
	}
	if !dl.HasNext() {
		return nil, errors.New("data loader exhausted")
	}
	out := dl.pending
	dl.pending = nil

	var r result
	select {
	case r = <-out:
	case <-dl.ctx.Done():
		return nil, ErrLoaderClosed
	}
	if r.err != nil {
		return nil, r.err
	}

	return r.items, nil
}

// Reset stops the current pass and starts a new one.
func (dl *DataLoader) Reset() {
	if dl.closed {
		return
	}
	dl.stop()
	dl.sampler.Reset()
	dl.start()
}

// Len returns number of batches per pass.
func (dl *DataLoader) Len() int {
	return dl.sampler.Len()
}

// Close stops all workers. The loader cannot be used afterwards.
func (dl *DataLoader) Close() {
	if dl.closed {
		return
	}
	dl.stop()
	dl.closed = true
}

func (dl *DataLoader) stop() {
	dl.cancel()
	// drain so the dispatcher is never blocked on a full queue
	go func(q chan chan result) {
		for range q {
		}
	}(dl.queue)
	dl.wg.Wait()
}
