package massget

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/apex/log"
	"github.com/segmentio/ksuid"
)

type (

	// ProgressFunc to show progress state, called by RunProgress based on interval.
	ProgressFunc func(d *Download)

	// Download fetches one resource with a growing set of ranged getters.
	Download struct {
		URL, Dir string

		opts Options

		id string

		length int64

		filename, path string

		writer *Writer

		logger log.Interface

		ctx context.Context

		cancel context.CancelFunc

		// Stops the parent context hook.
		unhook func() bool

		// Append only.
		mu sync.Mutex

		getters []*Getter

		started, cancelled atomic.Bool

		// Set once the server answered a ranged request with the whole body.
		rangeless atomic.Bool

		// Serializes fork evaluation with Cancel and Join.
		forkMu sync.Mutex

		forkStopped bool

		stop chan struct{}

		forkDone chan struct{}

		joinOnce sync.Once

		joinErr error

		finished chan struct{}

		startedAt, finishedAt time.Time

		progressMu sync.Mutex

		lastSize int64

		avg ewma.MovingAverage

		speed atomic.Uint64
	}
)

// NewDownload opens one connection to url to learn the content length and the file name,
// then creates the pre-sized output file in dir.
func NewDownload(ctx context.Context, URL, dir string, opts Options) (*Download, error) {

	opts.setDefaults()

	d := &Download{
		URL:      URL,
		Dir:      dir,
		opts:     opts,
		id:       ksuid.New().String(),
		stop:     make(chan struct{}),
		forkDone: make(chan struct{}),
		finished: make(chan struct{}),
		avg:      ewma.NewMovingAverage(),
	}

	length, name, err := d.probe(ctx)

	if err != nil {
		return nil, err
	}

	d.length = length
	d.filename = name
	d.path = filepath.Join(dir, name)
	d.logger = opts.Logger.WithFields(log.Fields{"id": d.id, "file": name})

	if d.writer, err = NewWriter(d.path, length, opts.BufferSize, d.logger); err != nil {
		return nil, err
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	d.logger.WithField("length", length).Info("download created")

	return d, nil
}

// probe requests the resource once and reads its length and name without consuming the body.
func (d *Download) probe(ctx context.Context) (int64, string, error) {

	var (
		err error
		req *http.Request
		res *http.Response
	)

	if req, err = NewRequest(ctx, http.MethodGet, d.URL, d.opts.Header); err != nil {
		return 0, "", err
	}

	if res, err = d.opts.Client.Do(req); err != nil {
		return 0, "", &ConnectError{URL: d.URL, Err: err}
	}

	res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return 0, "", &ConnectError{URL: d.URL, Status: res.StatusCode}
	}

	if res.ContentLength < 1 {
		return 0, "", fmt.Errorf("%w: content-length %d", ErrSizeUnknown, res.ContentLength)
	}

	name := GetFilename(d.URL)

	if cd := res.Header.Get("Content-Disposition"); cd != "" {
		if n := getNameFromHeader(cd); n != "" {
			name = n
		}
	}

	return res.ContentLength, name, nil
}

// Start starts the writer, the first getter spanning the whole resource and the fork timer.
func (d *Download) Start() error {

	if !d.started.CompareAndSwap(false, true) {
		return errors.New("massget: download already started")
	}

	d.startedAt = time.Now()

	// A cancelled parent cancels the download.
	d.unhook = context.AfterFunc(d.ctx, d.Cancel)

	go d.writer.Run()

	g := newGetter(d, 0, d.length)
	d.register(g)
	go g.run(d.ctx)

	go d.forkLoop()

	d.logger.Info("download started")

	return nil
}

// Cancel interrupts every getter and stops forking. It does not wait, call Join for that.
func (d *Download) Cancel() {

	if !d.cancelled.CompareAndSwap(false, true) {
		return
	}

	d.forkMu.Lock()
	d.forkStopped = true
	d.forkMu.Unlock()

	d.cancel()

	d.logger.Info("download cancelled")
}

// Join waits for every getter, including the ones forked while waiting, then closes the
// output file. A cancelled download has its file removed and Join returns ErrCancelled.
func (d *Download) Join() error {
	d.joinOnce.Do(func() {
		d.joinErr = d.join()
	})
	return d.joinErr
}

func (d *Download) join() error {

	if !d.started.Load() {
		go d.writer.Run()
		close(d.forkDone)
	}

	for waited := 0; ; {

		getters := d.Getters()

		for _, g := range getters[waited:] {
			<-g.Done()
		}

		waited = len(getters)

		d.forkMu.Lock()
		d.forkStopped = true
		d.forkMu.Unlock()

		if len(d.Getters()) == waited {
			break
		}
	}

	close(d.stop)
	<-d.forkDone

	if d.unhook != nil {
		d.unhook()
	}

	err := d.writer.Close()

	d.finishedAt = time.Now()
	close(d.finished)

	if d.cancelled.Load() {

		if rerr := os.Remove(d.path); rerr != nil {
			d.logger.WithError(rerr).Warn("partial file not removed")
		} else {
			d.logger.Debug("partial file removed")
		}

		return ErrCancelled
	}

	d.cancel()

	if err != nil {
		return err
	}

	failed, _ := d.IsFailed()

	d.logger.WithFields(log.Fields{
		"failed":  failed,
		"getters": len(d.Getters()),
		"cost":    d.TotalCost().Round(time.Millisecond),
	}).Info("download finished")

	return nil
}

// IsFailed reports whether any getter stopped before the end of its range.
// It returns ErrInvalidState while a getter is still running.
func (d *Download) IsFailed() (bool, error) {

	failed := false

	for _, g := range d.Getters() {

		f, err := g.Failed()

		if err != nil {
			return false, err
		}

		failed = failed || f
	}

	return failed, nil
}

// register appends g to the getter set, the caller starts it.
func (d *Download) register(g *Getter) {
	d.mu.Lock()
	d.getters = append(d.getters, g)
	d.mu.Unlock()
}

func (d *Download) forkLoop() {

	defer close(d.forkDone)

	ticker := time.NewTicker(d.opts.ForkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}

		d.forkMu.Lock()
		if !d.forkStopped && !d.cancelled.Load() {
			if child := d.smartFork(); child != nil {
				go child.run(d.ctx)
			}
		}
		d.forkMu.Unlock()
	}
}

// smartFork forks the running getter with the most bytes left when every running getter
// is healthy, there is room for one more, and a new connection is cheap compared to the
// time that getter still needs. The new getter is registered but not started.
// It returns nil when nothing was forked.
func (d *Download) smartFork() *Getter {

	// Forked getters would start past offset zero.
	if d.rangeless.Load() {
		return nil
	}

	var running []*Getter

	for _, g := range d.Getters() {
		if g.Alive() {
			running = append(running, g)
		}
	}

	if len(running) == 0 || len(running) >= d.opts.MaxGetters {
		return nil
	}

	var (
		target     *Getter
		maxRemain  int64
		maxConnect time.Duration
	)

	for _, g := range running {

		if !g.Healthy() {
			return nil
		}

		if remain := g.Remaining(); remain > maxRemain {
			target, maxRemain = g, remain
		}

		if cost, ok := g.ConnectCost(); ok && cost > maxConnect {
			maxConnect = cost
		}
	}

	if target == nil || maxRemain <= d.opts.MinForkSize {
		return nil
	}

	rate := target.DataRate()

	if rate <= 0 {
		return nil
	}

	eta := time.Duration(math.Min(float64(maxRemain)/rate*float64(time.Second), math.MaxInt64))

	if maxConnect >= eta/2 {
		return nil
	}

	child := target.Fork()

	if child == nil {
		return nil
	}

	d.register(child)

	d.logger.WithFields(log.Fields{
		"from":    target.Start(),
		"split":   child.Start(),
		"end":     child.End(),
		"eta":     eta.Round(time.Millisecond),
		"connect": maxConnect,
	}).Debug("getter forked")

	return child
}

// Getters returns a snapshot of every getter created so far.
func (d *Download) Getters() []*Getter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Getter(nil), d.getters...)
}

// ID returns the unique download id used in logs.
func (d *Download) ID() string {
	return d.id
}

// Length returns the content length.
func (d *Download) Length() int64 {
	return d.length
}

// Remaining returns the bytes not written yet, summed over every getter.
func (d *Download) Remaining() int64 {

	getters := d.Getters()

	if len(getters) == 0 {
		return d.length
	}

	var remaining int64

	for _, g := range getters {
		remaining += g.Remaining()
	}

	return remaining
}

// Size returns downloaded size.
func (d *Download) Size() int64 {
	return d.length - d.Remaining()
}

// Alive returns the number of running getters.
func (d *Download) Alive() (n int) {
	for _, g := range d.Getters() {
		if g.Alive() {
			n++
		}
	}
	return
}

// Healthy returns the number of running getters that are healthy.
func (d *Download) Healthy() (n int) {
	for _, g := range d.Getters() {
		if g.Alive() && g.Healthy() {
			n++
		}
	}
	return
}

// Filename returns the output file name.
func (d *Download) Filename() string {
	return d.filename
}

// Path returns the output file path.
func (d *Download) Path() string {
	return d.path
}

// Context returns download context.
func (d *Download) Context() context.Context {
	return d.ctx
}

// Cancelled reports whether Cancel was called.
func (d *Download) Cancelled() bool {
	return d.cancelled.Load()
}
