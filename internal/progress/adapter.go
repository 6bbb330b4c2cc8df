// Package progress translates raw fetch-engine callbacks into the minimal
// envelope stream observers consume.
package progress

import (
	"fmt"

	"github.com/udown/udownd/internal/event"
	"github.com/udown/udownd/internal/fetch"
)

// Pusher accepts envelopes without blocking. *job.Channel satisfies it.
type Pusher interface {
	Push(event.Envelope)
}

// Adapter coalesces high-frequency engine callbacks into new_video, progress
// and message envelopes. Its only mutable state is the identifier of the item
// currently downloading; the engine delivers callbacks sequentially, so no
// lock is needed. Handle performs no I/O and never blocks.
type Adapter struct {
	sink           Pusher
	currentVideoID string
}

// NewAdapter wires the adapter to its envelope sink.
func NewAdapter(sink Pusher) *Adapter {
	return &Adapter{sink: sink}
}

// Handle consumes one raw engine update. Safe to pass directly as the
// engine's progress hook.
func (a *Adapter) Handle(u fetch.Update) {
	switch u.Status {
	case fetch.StatusDownloading:
		a.handleDownloading(u)
	case fetch.StatusFinished:
		a.sink.Push(event.Message(fmt.Sprintf("Download finished: %s", u.Filename)))
	case fetch.StatusLog:
		a.sink.Push(event.Message(u.Message))
	}
}

func (a *Adapter) handleDownloading(u fetch.Update) {
	if u.VideoID != "" && u.VideoID != a.currentVideoID {
		a.currentVideoID = u.VideoID
		title := u.Title
		if title == "" {
			title = u.VideoID
		}
		a.sink.Push(event.NewVideo(title))
	}

	known := u.TotalBytes > 0
	var percent float64
	if known {
		percent = float64(u.DownloadedBytes) / float64(u.TotalBytes) * 100
	}
	speed := u.Speed
	if speed == "" {
		speed = "N/A"
	}
	eta := u.ETA
	if eta == "" {
		eta = "N/A"
	}
	a.sink.Push(event.Progress(u.VideoID, percent, known, speed, eta))
}
