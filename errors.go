package massget

import (
	"errors"
	"fmt"
)

var (
	// ErrSizeUnknown is returned when the resource length can not be determined.
	ErrSizeUnknown = errors.New("massget: content length unknown")

	// ErrInvalidState is returned when a result is queried while getters are still running.
	ErrInvalidState = errors.New("massget: download is still running")

	// ErrWriterClosed is returned by Writer.Write once Close has begun.
	ErrWriterClosed = errors.New("massget: writer has been closed")

	// ErrCancelled is returned by Join when the download was cancelled.
	ErrCancelled = errors.New("massget: download cancelled")

	// ErrRangeNotSupported is returned when a ranged request is answered with the whole body.
	ErrRangeNotSupported = errors.New("massget: server does not support range requests")
)

// ConnectError describes a failed request, either at the network level or by status code.
type ConnectError struct {
	URL    string
	Status int
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("connect %s: response status code is not ok: %d", e.URL, e.Status)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ReadError is a transport failure while streaming a range body.
type ReadError struct {
	Offset int64
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read at offset %d: %v", e.Offset, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
