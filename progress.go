package massget

import (
	"math"
	"time"
)

// RunProgress runs fn based on the Interval option until the download is joined,
// and updates the speed estimate between calls.
func (d *Download) RunProgress(fn ProgressFunc) {

	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	for {

		fn(d)

		select {
		case <-d.finished:
			return
		case <-ticker.C:
		}

		d.updateSpeed()
	}
}

func (d *Download) updateSpeed() {

	d.progressMu.Lock()
	defer d.progressMu.Unlock()

	size := d.Size()
	rate := float64(size-d.lastSize) / d.opts.Interval.Seconds()
	d.lastSize = size

	d.avg.Add(rate)
	d.speed.Store(math.Float64bits(d.avg.Value()))
}

// Speed returns the smoothed download speed in bytes per second.
func (d *Download) Speed() uint64 {
	return uint64(math.Float64frombits(d.speed.Load()))
}

// AvgSpeed returns average download speed.
func (d *Download) AvgSpeed() uint64 {

	if secs := d.TotalCost().Seconds(); secs > 0 {
		return uint64(float64(d.Size()) / secs)
	}

	return 0
}

// TotalCost returns download duration.
func (d *Download) TotalCost() time.Duration {

	if d.startedAt.IsZero() {
		return 0
	}

	select {
	case <-d.finished:
		return d.finishedAt.Sub(d.startedAt)
	default:
		return time.Since(d.startedAt)
	}
}
