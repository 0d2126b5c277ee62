// Package massget downloads one HTTP resource with ranged requests, splitting the slowest
// remaining range onto a new connection while the transfer runs.
//
// A Download starts with a single getter spanning the whole file. Every fork interval it
// looks at the running getters and, when all of them are healthy and a new connection is
// worth its setup cost, hands the back half of the largest remaining range to a new
// getter. All getters stream into one Writer, which owns the pre-sized output file and
// bounds the bytes in flight.
package massget

import (
	"context"
	"errors"
)

// ErrFailed is returned by Get when a range could not be fetched.
var ErrFailed = errors.New("massget: download failed")

// Get downloads URL into dir and returns the output path. Cancelling ctx cancels the
// download and removes the partial file.
func Get(ctx context.Context, URL, dir string, opts Options) (string, error) {

	d, err := NewDownload(ctx, URL, dir, opts)

	if err != nil {
		return "", err
	}

	if err := d.Start(); err != nil {
		return "", err
	}

	if err := d.Join(); err != nil {
		return "", err
	}

	if failed, _ := d.IsFailed(); failed {
		return d.Path(), ErrFailed
	}

	return d.Path(), nil
}
