package massget

import (
	"net/http"
	"time"

	"github.com/apex/log"
)

// Reference sizing of the engine.
const (
	DefaultChunkSize     = 8 * 1024
	DefaultRetryCount    = 3
	DefaultRetryInterval = 5 * time.Second
	DefaultForkInterval  = 5 * time.Second
	DefaultMaxGetters    = 10
	DefaultMinForkSize   = 1024 * 1024
	DefaultInterval      = 2 * time.Second
)

// Options tunes a Download, zero fields take the defaults.
type Options struct {

	// Http client, DefaultClient when nil.
	Client *http.Client

	// Extra headers sent with every request.
	Header []Header

	// Writer outstanding byte budget.
	BufferSize int64

	// Read size of a getter, forks are aligned to it.
	ChunkSize int

	// Attempts without progress before a getter gives up.
	RetryCount int

	// Pause between two attempts.
	RetryInterval time.Duration

	// Period of the fork evaluation.
	ForkInterval time.Duration

	// No fork happens while this many getters are running.
	MaxGetters int

	// A getter is forked only with more than MinForkSize bytes left.
	MinForkSize int64

	// Progress interval used by RunProgress.
	Interval time.Duration

	Logger log.Interface
}

// DefaultOptions returns the reference sizing.
func DefaultOptions() Options {
	var o Options
	o.setDefaults()
	return o
}

func (o *Options) setDefaults() {

	if o.Client == nil {
		o.Client = DefaultClient
	}

	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}

	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}

	// A single read must always fit in the writer budget.
	if int64(o.ChunkSize) > o.BufferSize {
		o.BufferSize = int64(o.ChunkSize)
	}

	if o.RetryCount <= 0 {
		o.RetryCount = DefaultRetryCount
	}

	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}

	if o.ForkInterval <= 0 {
		o.ForkInterval = DefaultForkInterval
	}

	if o.MaxGetters <= 0 {
		o.MaxGetters = DefaultMaxGetters
	}

	if o.MinForkSize <= 0 {
		o.MinForkSize = DefaultMinForkSize
	}

	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}

	if o.Logger == nil {
		o.Logger = log.Log
	}
}
