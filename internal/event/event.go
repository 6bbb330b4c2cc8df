// Package event defines the envelope pushed through a job's channel and
// delivered to stream observers.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind names the event as it appears on the wire.
type Kind string

// Supported envelope kinds.
const (
	KindNewVideo Kind = "new_video"
	KindProgress Kind = "progress"
	KindMessage  Kind = "message"
	KindJobError Kind = "job_error"
	KindFinished Kind = "finished"
)

// Terminal reports whether the kind signals a job outcome. Terminal envelopes
// must not be dropped under backpressure.
func (k Kind) Terminal() bool {
	return k == KindFinished || k == KindJobError
}

// Envelope is one unit of progress information. Payload is free text for
// message/job_error, a video title for new_video, a JSON ProgressPayload for
// progress, and the literal "close" for finished.
type Envelope struct {
	Kind    Kind
	Payload string
}

// Validate performs coarse validation on an Envelope.
func (e Envelope) Validate() error {
	switch e.Kind {
	case KindNewVideo, KindProgress, KindMessage, KindJobError, KindFinished:
		return nil
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

// UnknownProgress is reported when the engine does not know the total size.
// It is an explicit sentinel; zero would read as "not started".
const UnknownProgress = "unknown"

// ProgressPayload is the structured record carried by progress envelopes.
type ProgressPayload struct {
	VideoID  string `json:"video_id"`
	Progress string `json:"progress"`
	Speed    string `json:"speed"`
	ETA      string `json:"eta"`
}

// NewVideo builds a new_video envelope carrying the item's title.
func NewVideo(title string) Envelope {
	return Envelope{Kind: KindNewVideo, Payload: title}
}

// Message builds a free-text message envelope.
func Message(text string) Envelope {
	return Envelope{Kind: KindMessage, Payload: text}
}

// JobError builds the single error envelope for a failed job.
func JobError(err error) Envelope {
	if err == nil {
		err = errors.New("unknown error")
	}
	return Envelope{Kind: KindJobError, Payload: err.Error()}
}

// Finished builds the end-of-stream envelope. It is always the last envelope
// pushed for a job.
func Finished() Envelope {
	return Envelope{Kind: KindFinished, Payload: "close"}
}

// Progress builds a progress envelope. percent is rounded to one decimal
// place; pass known=false when the total size is unavailable.
func Progress(videoID string, percent float64, known bool, speed, eta string) Envelope {
	p := ProgressPayload{
		VideoID:  videoID,
		Progress: UnknownProgress,
		Speed:    speed,
		ETA:      eta,
	}
	if known {
		p.Progress = strconv.FormatFloat(percent, 'f', 1, 64)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		// ProgressPayload contains only strings; Marshal cannot fail.
		raw = []byte("{}")
	}
	return Envelope{Kind: KindProgress, Payload: string(raw)}
}

// ParseProgress decodes a progress payload, mainly for tests and clients.
func ParseProgress(payload string) (ProgressPayload, error) {
	var p ProgressPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return ProgressPayload{}, fmt.Errorf("decode progress payload: %w", err)
	}
	return p, nil
}
