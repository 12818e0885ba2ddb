package feed

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// IsFeedFile reports whether path carries an extension the pipeline accepts.
func IsFeedFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".xml" || ext == ".zip"
}

// Extract resolves path to an XML file on disk. A raw .xml path is returned
// unchanged. For a .zip archive the first entry ending in .xml is written to
// workDir under its base name and scanning stops there. An entry larger than
// maxBytes fails with ErrExtraction; maxBytes <= 0 means no limit.
func Extract(ctx context.Context, path, workDir string, maxBytes int64) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return path, nil
	case ".zip":
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrArchiveRead, path, err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrExtraction, path, err)
		}
		if entry.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(entry.Name), ".xml") {
			continue
		}
		return extractEntry(ctx, entry, workDir, maxBytes)
	}
	return "", fmt.Errorf("%w: %s", ErrNoXMLEntry, path)
}

func extractEntry(ctx context.Context, entry *zip.File, workDir string, maxBytes int64) (string, error) {
	if maxBytes > 0 && entry.UncompressedSize64 > uint64(maxBytes) {
		return "", fmt.Errorf("%w: entry %q declares %d bytes, limit is %d",
			ErrExtraction, entry.Name, entry.UncompressedSize64, maxBytes)
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", fmt.Errorf("%w: create work dir: %v", ErrExtraction, err)
	}

	rc, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open entry %q: %v", ErrArchiveRead, entry.Name, err)
	}
	defer rc.Close()

	outPath := filepath.Join(workDir, filepath.Base(entry.Name))
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("%w: create %q: %v", ErrExtraction, outPath, err)
	}

	var src io.Reader = &ctxReader{ctx: ctx, r: rc}
	if maxBytes > 0 {
		// the declared size can lie, so the copy is bounded as well
		src = io.LimitReader(src, maxBytes+1)
	}
	n, copyErr := io.Copy(out, src)
	if copyErr == nil && maxBytes > 0 && n > maxBytes {
		copyErr = fmt.Errorf("entry %q exceeds %d bytes", entry.Name, maxBytes)
	}
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("%w: write %q: %v", ErrExtraction, outPath, copyErr)
	}
	return outPath, nil
}

// ctxReader aborts a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
