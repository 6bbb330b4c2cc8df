// Package format renames versioned audio folders into one serially numbered
// folder suitable for simple USB players.
package format

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Request describes one serialization run.
type Request struct {
	SourceRoot   string
	TargetRoot   string
	StartVersion int
	EndVersion   int
	// AllowedSuffixes filters files by extension; defaults to .mp3 only.
	AllowedSuffixes []string
}

// Versions copies every file from Version_<start>..Version_<end> under the
// source root into the target root, renamed to "NNN - <ascii title><ext>"
// with a global counter. Existing files in the target are removed first. It
// returns the number of files written.
func Versions(req Request) (int, error) {
	if req.StartVersion < 1 || req.EndVersion < 1 || req.StartVersion > req.EndVersion {
		return 0, fmt.Errorf("invalid version range %d..%d", req.StartVersion, req.EndVersion)
	}
	suffixes := req.AllowedSuffixes
	if len(suffixes) == 0 {
		suffixes = []string{".mp3"}
	}

	if err := os.MkdirAll(req.TargetRoot, 0o755); err != nil {
		return 0, fmt.Errorf("create target root: %w", err)
	}
	if err := clearFiles(req.TargetRoot); err != nil {
		return 0, err
	}

	var all []string
	for version := req.StartVersion; version <= req.EndVersion; version++ {
		dir := filepath.Join(req.SourceRoot, fmt.Sprintf("Version_%d", version))
		files, err := listAudioFiles(dir, suffixes)
		if err != nil {
			return 0, err
		}
		all = append(all, files...)
	}
	if len(all) == 0 {
		return 0, nil
	}

	width := len(fmt.Sprintf("%d", len(all)))
	if width < 3 {
		width = 3
	}

	for i, src := range all {
		stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		name := fmt.Sprintf("%0*d - %s%s", width, i+1, ASCIISafe(stem), strings.ToLower(filepath.Ext(src)))
		if err := copyFile(src, filepath.Join(req.TargetRoot, name)); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}

func listAudioFiles(dir string, suffixes []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read version dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !suffixAllowed(entry.Name(), suffixes) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func suffixAllowed(name string, suffixes []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, s := range suffixes {
		if ext == strings.ToLower(s) {
			return true
		}
	}
	return false
}

func clearFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read target root: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("clear target file: %w", err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close target: %w", err)
	}
	return nil
}

// ASCIISafe folds text to a filename-safe ASCII string: NFKD decomposition
// with combining marks and non-ASCII runes stripped, then restricted to
// alphanumerics, spaces, dots and underscores, capped at 100 runes.
func ASCIISafe(text string) string {
	decomposed := norm.NFKD.String(text)
	var b strings.Builder
	for _, r := range decomposed {
		if r > unicode.MaxASCII || unicode.Is(unicode.Mn, r) {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '.' || r == '_' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimRight(b.String(), " ")
	if cleaned == "" {
		cleaned = "track"
	}
	if len(cleaned) > 100 {
		cleaned = cleaned[:100]
	}
	return cleaned
}
