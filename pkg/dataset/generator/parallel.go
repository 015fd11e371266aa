// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package generator

import (
	"io"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Dataset is the contract shared by Generator, PreGenerated and ParallelDataset.
type Dataset interface {
	// Name of the dataset, used for logging.
	Name() string

	// Reset restarts the dataset. Finite datasets return io.EOF at the end of a pass, until Reset is called.
	Reset()

	// Yield the next Batch.
	Yield() (*Batch, error)
}

var (
	_ Dataset = (*Generator)(nil)
	_ Dataset = (*PreGenerated)(nil)
	_ Dataset = (*ParallelDataset)(nil)
)

// ParallelDataset is a wrapper around a thread-safe Dataset that calls Yield in parallel goroutines, keeping a
// buffer of batches generated ahead of consumption.
//
// The order of the yields is not preserved: faster batches to generate may be yielded first.
type ParallelDataset struct {
	Dataset Dataset

	name string

	// parallelism is the number of goroutines started generating batches.
	parallelism int

	// bufferSize is the size of the buffer of pre-generated batches.
	bufferSize int

	impl *parallelImpl
}

// parallelImpl holds the running state. A new one is created at every Reset.
type parallelImpl struct {
	ds Dataset

	muErr sync.Mutex
	err   error

	buffer                    chan *Batch
	passFinished, stopPass    chan struct{}
	stopDataset, doneWorkers  chan struct{}
	closeStopPass, closeStopD sync.Once
}

// Parallel wraps ds with a ParallelDataset using the given parallelism (0 uses the number of cores plus one)
// and buffer size, and starts it.
//
// Call ParallelDataset.Done when finished, to stop the goroutines.
func Parallel(ds Dataset, parallelism, bufferSize int) *ParallelDataset {
	return CustomParallel(ds).Parallelism(parallelism).Buffer(bufferSize).Start()
}

// CustomParallel builds a ParallelDataset that can be further configured (see Parallelism and Buffer)
// before calling Start.
func CustomParallel(ds Dataset) *ParallelDataset {
	pd := &ParallelDataset{
		name:    ds.Name(),
		Dataset: ds,
	}
	return pd.Parallelism(0)
}

// Parallelism is the number of goroutines to start, each calling `ds.Yield()`. If set to 0 (the default), it
// will use the number of cores in the system plus 1.
//
// This must be called before Start.
func (pd *ParallelDataset) Parallelism(n int) *ParallelDataset {
	if pd.impl != nil {
		klog.Errorf("ParallelDataset %q: invalid configuration change after Start has been called", pd.name)
		return pd
	}
	if n <= 0 {
		n = runtime.NumCPU() + 1
	}
	pd.parallelism = n
	return pd
}

// Buffer is the number of generated batches kept ahead of consumption.
//
// This must be called before Start.
func (pd *ParallelDataset) Buffer(n int) *ParallelDataset {
	if pd.impl != nil {
		klog.Errorf("ParallelDataset %q: invalid configuration change after Start has been called", pd.name)
		return pd
	}
	pd.bufferSize = max(n, 0)
	return pd
}

// WithName sets the name of the parallel dataset. It defaults to the wrapped dataset name.
func (pd *ParallelDataset) WithName(name string) *ParallelDataset {
	pd.name = name
	return pd
}

// Start the goroutines. After Start the configuration can no longer be changed.
func (pd *ParallelDataset) Start() *ParallelDataset {
	if pd.impl != nil {
		klog.Errorf("ParallelDataset %q: Start called more than once", pd.name)
		return pd
	}
	pd.impl = pd.newImpl()
	return pd
}

func (pd *ParallelDataset) newImpl() *parallelImpl {
	impl := &parallelImpl{
		ds:           pd.Dataset,
		buffer:       make(chan *Batch, pd.bufferSize),
		passFinished: make(chan struct{}),
		stopPass:     make(chan struct{}),
		stopDataset:  make(chan struct{}),
		doneWorkers:  make(chan struct{}),
	}
	var wg sync.WaitGroup
	for range pd.parallelism {
		wg.Add(1)
		go func() {
			defer wg.Done()
			impl.worker()
		}()
	}
	go func() {
		wg.Wait()
		close(impl.doneWorkers)
		select {
		case <-impl.stopDataset:
		default:
			close(impl.passFinished)
		}
	}()
	return impl
}

func (impl *parallelImpl) worker() {
	for {
		select {
		case <-impl.stopPass:
			return
		case <-impl.stopDataset:
			return
		default:
		}
		batch, err := impl.ds.Yield()
		if err == io.EOF {
			return
		}
		if err != nil {
			klog.Errorf("ParallelDataset %q: %+v", impl.ds.Name(), err)
			impl.muErr.Lock()
			if impl.err == nil {
				impl.err = err
			}
			impl.muErr.Unlock()
			impl.closeStopD.Do(func() { close(impl.stopDataset) })
			return
		}
		select {
		case <-impl.stopPass:
			return
		case <-impl.stopDataset:
			return
		case impl.buffer <- batch:
		}
	}
}

// Name of the dataset.
func (pd *ParallelDataset) Name() string { return pd.name }

// Done stops the goroutines and waits for them to finish.
func (pd *ParallelDataset) Done() {
	if pd.impl == nil {
		return
	}
	impl := pd.impl
	pd.impl = nil
	impl.closeStopD.Do(func() { close(impl.stopDataset) })
	<-impl.doneWorkers
}

// Reset stops the current generation, discards the buffered batches, resets the wrapped dataset and
// starts again.
func (pd *ParallelDataset) Reset() {
	impl := pd.impl
	if impl == nil {
		klog.Warningf("ParallelDataset %q: Reset called before Start or after Done", pd.name)
		return
	}
	impl.closeStopPass.Do(func() { close(impl.stopPass) })
drain:
	for {
		select {
		case <-impl.doneWorkers:
			break drain
		case <-impl.buffer:
		}
	}
	select {
	case <-impl.stopDataset:
		// An error happened: keep reporting it.
		return
	default:
	}
	pd.Dataset.Reset()
	pd.impl = pd.newImpl()
}

// Yield returns the next generated batch. It returns io.EOF once the wrapped dataset is exhausted and the
// buffer is empty.
func (pd *ParallelDataset) Yield() (*Batch, error) {
	impl := pd.impl
	if impl == nil {
		return nil, errors.Errorf("ParallelDataset %q: Yield called before Start or after Done", pd.name)
	}
	select {
	case batch := <-impl.buffer:
		return batch, nil
	case <-impl.stopDataset:
		impl.muErr.Lock()
		defer impl.muErr.Unlock()
		if impl.err == nil {
			return nil, errors.Errorf("ParallelDataset %q: stopped", pd.name)
		}
		return nil, impl.err
	case <-impl.passFinished:
		// No more batches being produced (until Reset), but the buffer may still have some.
		select {
		case batch := <-impl.buffer:
			return batch, nil
		default:
			return nil, io.EOF
		}
	}
}
