package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Writer publishes finished reports under a root output directory, one
// subdirectory per run.
type Writer struct {
	root   string
	logger *zap.Logger
}

// NewWriter returns a Writer rooted at dir.
func NewWriter(dir string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{root: dir, logger: logger}
}

// Publish writes the full run output and makes it visible atomically. All
// artifacts are staged in a temporary directory next to the final location
// and a single rename exposes them, so a crash mid-write never leaves a
// partial run directory at the published path.
func (w *Writer) Publish(r *Report) (string, error) {
	if r.RunID == "" {
		return "", fmt.Errorf("publish report: empty run id")
	}
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return "", fmt.Errorf("create output root: %w", err)
	}

	staging, err := os.MkdirTemp(w.root, "."+r.RunID+".tmp-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil && !os.IsNotExist(rmErr) {
			w.logger.Warn("staging cleanup failed", zap.String("dir", staging), zap.Error(rmErr))
		}
	}()

	if err := w.writeArtifacts(staging, r); err != nil {
		return "", err
	}

	final := filepath.Join(w.root, r.RunID)
	if err := os.RemoveAll(final); err != nil {
		return "", fmt.Errorf("remove previous run dir: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		return "", fmt.Errorf("publish run dir: %w", err)
	}
	w.logger.Info("report published", zap.String("dir", final), zap.Int("pages", len(r.Pages)))
	return final, nil
}

func (w *Writer) writeArtifacts(dir string, r *Report) error {
	if err := w.writeScreenshots(dir, r); err != nil {
		return err
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), data, 0o644); err != nil {
		return fmt.Errorf("write report.json: %w", err)
	}

	mdFile, err := os.Create(filepath.Join(dir, "report.md"))
	if err != nil {
		return fmt.Errorf("create report.md: %w", err)
	}
	if err := WriteMarkdown(mdFile, r); err != nil {
		mdFile.Close()
		return fmt.Errorf("write report.md: %w", err)
	}
	if err := mdFile.Close(); err != nil {
		return fmt.Errorf("close report.md: %w", err)
	}

	return w.writePages(dir, r)
}

func (w *Writer) writePages(dir string, r *Report) error {
	if len(r.Pages) == 0 {
		return nil
	}
	pagesDir := filepath.Join(dir, "pages")
	if err := os.Mkdir(pagesDir, 0o755); err != nil {
		return fmt.Errorf("create pages dir: %w", err)
	}
	for i := range r.Pages {
		p := &r.Pages[i]
		name := p.Title
		if name == "" {
			name = fmt.Sprintf("page_%d", i+1)
		}
		path := filepath.Join(pagesDir, fmt.Sprintf("%d-%s.md", i+1, SanitizeFilename(name)))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create page report: %w", err)
		}
		if err := WritePageMarkdown(f, p, i+1); err != nil {
			f.Close()
			return fmt.Errorf("write page report %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close page report: %w", err)
		}
	}
	return nil
}

// writeScreenshots stores captures under screenshots/ and records the
// relative path on each record before report.json is encoded.
func (w *Writer) writeScreenshots(dir string, r *Report) error {
	var any bool
	for i := range r.Pages {
		if len(r.Pages[i].Screenshot) > 0 {
			any = true
			break
		}
	}
	if !any {
		return nil
	}

	shotsDir := filepath.Join(dir, "screenshots")
	if err := os.Mkdir(shotsDir, 0o755); err != nil {
		return fmt.Errorf("create screenshots dir: %w", err)
	}
	for i := range r.Pages {
		p := &r.Pages[i]
		if len(p.Screenshot) == 0 {
			continue
		}
		name := fmt.Sprintf("%d-%s.png", i+1, SanitizeFilename(baseName(p.FinalURL, i+1)))
		if err := os.WriteFile(filepath.Join(shotsDir, name), p.Screenshot, 0o644); err != nil {
			return fmt.Errorf("write screenshot: %w", err)
		}
		p.ScreenshotPath = filepath.Join("screenshots", name)
	}
	return nil
}

func baseName(rawURL string, index int) string {
	if i := strings.LastIndex(rawURL, "/"); i >= 0 && i+1 < len(rawURL) {
		return rawURL[i+1:]
	}
	return fmt.Sprintf("page_%d", index)
}
