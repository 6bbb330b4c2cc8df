// Package fetch defines the boundary to the external download engine. The
// engine is an opaque capability: it takes a playlist locator and options,
// reports raw progress through a callback, and returns a summary or an error.
package fetch

import "context"

// Status tags a raw progress callback.
type Status string

const (
	// StatusDownloading marks an in-flight transfer update.
	StatusDownloading Status = "downloading"
	// StatusFinished marks the completion of a single item.
	StatusFinished Status = "finished"
	// StatusLog carries a diagnostic line the engine wants surfaced to the
	// observer, such as a yt-dlp warning.
	StatusLog Status = "log"
)

// Update is the raw per-callback state reported by the engine. Callbacks may
// arrive from whatever goroutine the engine chooses, zero or more times,
// before Fetch returns.
type Update struct {
	Status          Status
	VideoID         string
	Title           string
	DownloadedBytes int64
	// TotalBytes is zero when the engine cannot estimate the item size.
	TotalBytes int64
	Speed      string
	ETA        string
	// Filename is the resolved output path, set on finished updates.
	Filename string
	// Message is the diagnostic text on log updates.
	Message string
}

// Options resolves the per-job download configuration.
type Options struct {
	OutputDir    string
	Quality      string
	NameTemplate string
	CookiesFile  string
	SaveMetadata bool
	// AudioFormat requests post-download conversion (e.g. "mp3"); empty
	// means no conversion.
	AudioFormat string
}

// Result summarizes a completed playlist fetch.
type Result struct {
	Title   string
	Entries int
}

// Hook receives raw progress updates. Implementations must not block.
type Hook func(Update)

// Engine downloads a whole playlist, invoking hook as items progress.
type Engine interface {
	Fetch(ctx context.Context, playlistURL string, opts Options, hook Hook) (Result, error)
}
