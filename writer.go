package massget

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"golang.org/x/sync/semaphore"
)

// DefaultBufferSize is the default outstanding byte budget of a Writer.
const DefaultBufferSize = 64 * 1024 * 1024

// block is one offset tagged payload waiting to be written.
type block struct {
	data   []byte
	offset int64
}

// Writer serializes offset tagged writes from many producers into one pre-sized file.
// Only the Run loop touches the file handle.
type Writer struct {
	file *os.File

	path string

	size int64

	capacity *semaphore.Weighted

	// Guards the queue against sends after close.
	mu sync.RWMutex

	queue chan block

	closed atomic.Bool

	done chan struct{}

	err atomic.Pointer[error]

	logger log.Interface
}

// NewWriter creates or truncates path and extends it to length bytes.
// capacity bounds the bytes accepted by Write and not yet flushed.
func NewWriter(path string, length, capacity int64, logger log.Interface) (*Writer, error) {

	if capacity <= 0 {
		capacity = DefaultBufferSize
	}

	if logger == nil {
		logger = log.Log
	}

	file, err := os.Create(path)

	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	// Allocate the file completely so that blocks can land at any offset.
	if err := file.Truncate(length); err != nil {
		file.Close()
		return nil, fmt.Errorf("allocate %s: %w", path, err)
	}

	return &Writer{
		file:     file,
		path:     path,
		size:     capacity,
		capacity: semaphore.NewWeighted(capacity),
		queue:    make(chan block, 64),
		done:     make(chan struct{}),
		logger:   logger,
	}, nil
}

// Write blocks until len(data) bytes of budget are available, then queues the block
// for the Run loop. data must not be modified after the call.
func (w *Writer) Write(ctx context.Context, data []byte, offset int64) error {

	n := int64(len(data))

	if n > w.size {
		return fmt.Errorf("block of %d bytes exceeds writer capacity %d", n, w.size)
	}

	if w.closed.Load() {
		return ErrWriterClosed
	}

	if err := w.Err(); err != nil {
		return err
	}

	if err := w.capacity.Acquire(ctx, n); err != nil {
		return err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed.Load() {
		w.capacity.Release(n)
		return ErrWriterClosed
	}

	w.queue <- block{data: data, offset: offset}

	return nil
}

// WriteAt implements io.WriterAt on top of Write, copying p.
func (w *Writer) WriteAt(p []byte, off int64) (int, error) {

	buf := make([]byte, len(p))
	copy(buf, p)

	if err := w.Write(context.Background(), buf, off); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Run is the writer loop, it returns once Close has drained the queue and the file is closed.
func (w *Writer) Run() {

	defer close(w.done)

	for b := range w.queue {

		if w.Err() == nil {

			if _, err := w.file.WriteAt(b.data, b.offset); err != nil {
				w.fail(fmt.Errorf("write %s at %d: %w", w.path, b.offset, err))
			}
		}

		w.capacity.Release(int64(len(b.data)))
	}

	if err := w.file.Close(); err != nil {
		w.fail(fmt.Errorf("close %s: %w", w.path, err))
	}

	w.logger.WithField("path", w.path).Debug("file closed")
}

// Close stops accepting writes, waits for Run to flush every queued block and returns
// the first I/O error, if any. It is safe to call more than once.
func (w *Writer) Close() error {

	w.mu.Lock()
	if w.closed.CompareAndSwap(false, true) {
		close(w.queue)
	}
	w.mu.Unlock()

	<-w.done

	return w.Err()
}

// Err returns the first file error seen by the writer loop.
func (w *Writer) Err() error {
	if err := w.err.Load(); err != nil {
		return *err
	}
	return nil
}

// Path returns the destination file path.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) fail(err error) {
	if w.err.CompareAndSwap(nil, &err) {
		w.logger.WithError(err).Error("file write error")
	}
}
