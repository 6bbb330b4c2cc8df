// Package ytdlp implements the fetch engine on top of the yt-dlp binding.
package ytdlp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"github.com/udown/udownd/internal/fetch"
)

const progressInterval = 500 * time.Millisecond

// Engine drives yt-dlp playlist downloads.
type Engine struct {
	logger *zap.Logger
}

// New constructs an Engine.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Fetch downloads the playlist, forwarding raw progress to hook. It returns
// once yt-dlp exits; hook is never invoked after that.
func (e *Engine) Fetch(ctx context.Context, playlistURL string, opts fetch.Options, hook fetch.Hook) (fetch.Result, error) {
	outDir := opts.OutputDir
	if outDir == "" {
		outDir = "."
	}
	template := opts.NameTemplate
	if template == "" {
		template = "%(playlist_index)02d - %(title)s.%(ext)s"
	}

	dl := ytdlp.New().
		Format(FormatSelection(opts.Quality)).
		IgnoreErrors().
		Continue().
		Output(filepath.Join(outDir, "%(playlist_title)s", template))

	if opts.CookiesFile != "" {
		dl = dl.Cookies(opts.CookiesFile)
	}
	if opts.SaveMetadata {
		dl = dl.WriteInfoJSON()
	}
	if opts.AudioFormat != "" {
		dl = dl.ExtractAudio().AudioFormat(opts.AudioFormat)
	}

	dl.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		if hook != nil {
			hook(mapUpdate(update))
		}
	})

	e.logger.Info("starting playlist fetch",
		zap.String("url", playlistURL),
		zap.String("quality", opts.Quality))

	res, err := dl.Run(ctx, playlistURL)
	forwardDiagnostics(res, hook)
	if err != nil {
		return fetch.Result{}, fmt.Errorf("yt-dlp run: %w", err)
	}
	return summarize(res, playlistURL), nil
}

// forwardDiagnostics relays yt-dlp warning and error lines to the hook so the
// observer sees what yt-dlp would have printed to its console. IgnoreErrors
// means a playlist can succeed overall while individual items fail; those
// failures only surface here.
func forwardDiagnostics(res *ytdlp.Result, hook fetch.Hook) {
	if res == nil || hook == nil {
		return
	}
	for _, line := range diagnosticLines(res.Stderr) {
		hook(fetch.Update{Status: fetch.StatusLog, Message: line})
	}
}

func diagnosticLines(stderr string) []string {
	var out []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "WARNING:") || strings.HasPrefix(line, "ERROR:") {
			out = append(out, line)
		}
	}
	return out
}

func mapUpdate(update ytdlp.ProgressUpdate) fetch.Update {
	out := fetch.Update{
		DownloadedBytes: int64(update.DownloadedBytes),
		TotalBytes:      int64(update.TotalBytes),
	}
	switch update.Status {
	case ytdlp.ProgressStatusFinished:
		out.Status = fetch.StatusFinished
	default:
		out.Status = fetch.StatusDownloading
	}
	if update.Info != nil {
		out.VideoID = update.Info.ID
		if update.Info.Title != nil {
			out.Title = *update.Info.Title
		}
		if update.Info.Filename != nil {
			out.Filename = *update.Info.Filename
		}
	}
	if !update.Started.IsZero() {
		elapsed := time.Since(update.Started)
		if elapsed > 0 && update.DownloadedBytes > 0 {
			perSec := float64(update.DownloadedBytes) / elapsed.Seconds()
			out.Speed = fmt.Sprintf("%.1fMiB/s", perSec/1024/1024)
		}
	}
	if eta := update.ETA(); eta > 0 {
		out.ETA = eta.Truncate(time.Second).String()
	}
	return out
}

func summarize(res *ytdlp.Result, playlistURL string) fetch.Result {
	out := fetch.Result{Title: playlistURL}
	if res == nil {
		return out
	}
	info, err := res.GetExtractedInfo()
	if err != nil {
		return out
	}
	out.Entries = len(info)
	for _, ei := range info {
		if ei == nil {
			continue
		}
		if ei.Playlist != nil && *ei.Playlist != "" {
			out.Title = *ei.Playlist
			break
		}
	}
	return out
}

// FormatSelection maps a user-facing quality to a yt-dlp format selector.
func FormatSelection(quality string) string {
	switch {
	case quality == "audio-only":
		return "bestaudio/best"
	case quality == "" || quality == "best":
		return "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	case strings.HasSuffix(quality, "p"):
		height := strings.TrimSuffix(quality, "p")
		return fmt.Sprintf(
			"bestvideo[height<=%s][ext=mp4]+bestaudio[ext=m4a]/best[height<=%s][ext=mp4]/best",
			height, height)
	default:
		// Pass unrecognized selectors straight through to yt-dlp.
		return quality
	}
}
