package api

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/udown/udownd/internal/fetch"
	"github.com/udown/udownd/internal/format"
)

// startDownload handles POST /download. It validates the form, registers a
// fresh job, launches the worker fire-and-forget, and returns the job id
// without waiting for any download activity.
func (s *Server) startDownload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}

	playlistURL := strings.TrimSpace(r.PostFormValue("playlist_url"))
	if playlistURL == "" {
		writeError(w, http.StatusBadRequest, "Playlist URL is required.")
		return
	}

	opts := s.resolveOptions(r)

	jobID, ch := s.registry.Create()
	s.logger.Info("job accepted",
		zap.String("job_id", jobID),
		zap.String("url", playlistURL))

	// The worker's lifetime is the process, not the request: the job runs
	// under the server's base context so it survives the requester
	// disconnecting but still stops on shutdown.
	go s.starter.Run(s.baseCtx, jobID, ch, playlistURL, opts)

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) resolveOptions(r *http.Request) fetch.Options {
	quality := r.PostFormValue("quality")
	if quality == "" {
		quality = s.cfg.Downloads.QualityDefault
	}
	audioFormat := ""
	if r.PostForm.Has("to_mp3") {
		quality = "audio-only"
		audioFormat = "mp3"
	} else if r.PostForm.Has("audio_only") {
		quality = "audio-only"
	}

	template := r.PostFormValue("name_template")
	if template == "" {
		template = s.cfg.Downloads.NameTemplate
	}
	if r.PostForm.Has("simple_serial") {
		template = "%(playlist_index)02d.%(ext)s"
	}

	outputDir := r.PostFormValue("output_dir")
	if outputDir == "" {
		outputDir = s.cfg.Downloads.Dir
	}

	return fetch.Options{
		OutputDir:    outputDir,
		Quality:      quality,
		NameTemplate: template,
		CookiesFile:  r.PostFormValue("cookies_file"),
		SaveMetadata: r.PostForm.Has("save_metadata"),
		AudioFormat:  audioFormat,
	}
}

// formatVersions handles POST /format_versions, the auxiliary serializer for
// already-downloaded version folders.
func (s *Server) formatVersions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	req := format.Request{
		SourceRoot:   r.PostFormValue("source_root"),
		TargetRoot:   r.PostFormValue("target_root"),
		StartVersion: formInt(r, "start_version", 1),
		EndVersion:   formInt(r, "end_version", 7),
	}
	if req.SourceRoot == "" || req.TargetRoot == "" {
		writeError(w, http.StatusBadRequest, "source_root and target_root are required")
		return
	}

	total, err := format.Versions(req)
	if err != nil {
		s.logger.Warn("format versions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Formatted " + strconv.Itoa(total) + " files into " + req.TargetRoot,
	})
}

func formInt(r *http.Request, key string, def int) int {
	raw := r.PostFormValue(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
