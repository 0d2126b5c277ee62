package massget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
)

// Getter fetches the byte range [start, end) of the resource into the Writer.
// The range end may shrink while it runs, when Fork hands the back half to a new Getter.
type Getter struct {
	d *Download

	start int64

	// Guards cursor and end against Fork.
	mu sync.Mutex

	cursor, end int64

	healthy atomic.Bool

	failed atomic.Bool

	// Nanoseconds, -1 until the first successful connect.
	connectCost atomic.Int64

	// Float64 bits, bytes per second of the last read.
	dataRate atomic.Uint64

	done chan struct{}

	logger log.Interface
}

func newGetter(d *Download, start, end int64) *Getter {

	g := &Getter{
		d:      d,
		start:  start,
		cursor: start,
		end:    end,
		done:   make(chan struct{}),
		logger: d.logger.WithFields(log.Fields{"start": start, "end": end}),
	}

	g.connectCost.Store(-1)

	return g
}

// Start returns the first byte of the range.
func (g *Getter) Start() int64 {
	return g.start
}

// End returns the current exclusive end of the range.
func (g *Getter) End() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.end
}

// Cursor returns the next offset to be written.
func (g *Getter) Cursor() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cursor
}

// Remaining returns the bytes left in the range.
func (g *Getter) Remaining() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return max(g.end-g.cursor, 0)
}

// Healthy reports whether a chunk was read since the last (re)connect.
func (g *Getter) Healthy() bool {
	return g.healthy.Load()
}

// ConnectCost returns the duration of the last successful connect,
// ok is false when no connect succeeded yet.
func (g *Getter) ConnectCost() (cost time.Duration, ok bool) {
	if c := g.connectCost.Load(); c >= 0 {
		return time.Duration(c), true
	}
	return 0, false
}

// DataRate returns the rate of the most recent read in bytes per second.
func (g *Getter) DataRate() float64 {
	return math.Float64frombits(g.dataRate.Load())
}

// Alive reports whether the getter loop is still running.
func (g *Getter) Alive() bool {
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}

// Done is closed when the getter loop exits.
func (g *Getter) Done() <-chan struct{} {
	return g.done
}

// Failed reports whether the getter stopped before the end of its range.
// It returns ErrInvalidState while the getter is still running.
func (g *Getter) Failed() (bool, error) {
	if g.Alive() {
		return false, ErrInvalidState
	}
	return g.failed.Load(), nil
}

// Fork splits the remaining range at its chunk aligned midpoint and returns a new,
// not yet started, Getter owning the back half. It returns nil when the split would
// leave less than one chunk in front of the cursor.
func (g *Getter) Fork() *Getter {

	chunk := int64(g.d.opts.ChunkSize)

	g.mu.Lock()
	defer g.mu.Unlock()

	pos := (g.end-g.cursor)/2 + g.cursor
	pos -= pos % chunk

	if pos <= g.cursor+chunk || pos > g.end {
		return nil
	}

	child := newGetter(g.d, pos, g.end)
	g.end = pos

	return child
}

// run fetches the range until it is complete, cancelled, or out of retries.
func (g *Getter) run(ctx context.Context) {

	defer close(g.done)

	opts := g.d.opts

	for retry := 0; retry < opts.RetryCount; retry++ {

		if ctx.Err() != nil {
			break
		}

		old := g.Cursor()

		err := g.fetch(ctx)

		if err == nil || ctx.Err() != nil {
			break
		}

		g.healthy.Store(false)

		if errors.Is(err, ErrWriterClosed) || g.d.writer.Err() != nil {
			g.logger.WithError(err).Error("writer unavailable")
			break
		}

		g.logger.WithError(err).WithField("retry", retry).Warn("file get error")

		// Progress resets patience.
		if g.Cursor() > old {
			retry = -1
		}

		if retry+1 >= opts.RetryCount {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(opts.RetryInterval):
		}
	}

	g.mu.Lock()
	g.failed.Store(g.cursor < g.end && ctx.Err() == nil)
	g.mu.Unlock()

	if g.failed.Load() {
		g.logger.WithField("cursor", g.Cursor()).Error("getter failed")
	}
}

// fetch runs one connect and stream attempt.
func (g *Getter) fetch(ctx context.Context) error {

	body, err := g.connect(ctx)

	if err != nil {
		return err
	}

	defer body.Close()

	return g.stream(ctx, body)
}

func (g *Getter) connect(ctx context.Context) (io.ReadCloser, error) {

	var (
		d   = g.d
		err error
		req *http.Request
		res *http.Response
	)

	g.mu.Lock()
	cursor, end := g.cursor, g.end
	g.mu.Unlock()

	if cursor >= end {
		return http.NoBody, nil
	}

	if req, err = NewRequest(ctx, http.MethodGet, d.URL, d.opts.Header); err != nil {
		return nil, err
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", cursor, end-1))

	started := time.Now()

	if res, err = d.opts.Client.Do(req); err != nil {
		return nil, &ConnectError{URL: d.URL, Err: err}
	}

	switch {
	case res.StatusCode == http.StatusPartialContent:
	case res.StatusCode == http.StatusOK && cursor == 0:
		// The whole body starts at offset zero, the read loop stops at end.
		if d.rangeless.CompareAndSwap(false, true) {
			g.logger.Warn("ranges ignored by server, forking disabled")
		}
	case res.StatusCode == http.StatusOK:
		res.Body.Close()
		return nil, &ConnectError{URL: d.URL, Status: res.StatusCode, Err: ErrRangeNotSupported}
	default:
		res.Body.Close()
		return nil, &ConnectError{URL: d.URL, Status: res.StatusCode}
	}

	cost := time.Since(started)
	g.connectCost.Store(int64(cost))

	g.logger.WithField("cost", cost).Debug("connected")

	return res.Body, nil
}

func (g *Getter) stream(ctx context.Context, body io.Reader) error {

	buf := make([]byte, g.d.opts.ChunkSize)

	for {

		g.mu.Lock()
		cursor, end := g.cursor, g.end
		g.mu.Unlock()

		if cursor >= end {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		started := time.Now()

		n, err := body.Read(buf)

		if n > 0 {

			elapsed := max(time.Since(started), time.Microsecond)
			g.dataRate.Store(math.Float64bits(float64(n) / elapsed.Seconds()))
			g.healthy.Store(true)

			// Fork may have shrunk the range, it never cuts into the chunk in flight.
			g.mu.Lock()
			n = int(min(int64(n), g.end-g.cursor))
			g.mu.Unlock()

			data := make([]byte, n)
			copy(data, buf[:n])

			if werr := g.d.writer.Write(ctx, data, cursor); werr != nil {
				return werr
			}

			g.mu.Lock()
			g.cursor += int64(n)
			g.mu.Unlock()
		}

		if err == io.EOF {
			if g.Remaining() == 0 {
				return nil
			}
			return &ReadError{Offset: g.Cursor(), Err: io.ErrUnexpectedEOF}
		}

		if err != nil {
			return &ReadError{Offset: g.Cursor(), Err: err}
		}
	}
}
