package listener

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LogSnapshot returns the last maxBytes of the file at path, prefixed with a
// header. A missing file is reported in the text, not as an error.
func LogSnapshot(path string, maxBytes int) (string, error) {
	if maxBytes <= 0 {
		maxBytes = 16 * 1024
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return fmt.Sprintf("❌ Log file not found at: %s", path), nil
	}
	if err != nil {
		return "", fmt.Errorf("open log %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat log %s: %w", path, err)
	}
	if info.Size() > int64(maxBytes) {
		if _, err := f.Seek(-int64(maxBytes), io.SeekEnd); err != nil {
			return "", fmt.Errorf("seek log %s: %w", path, err)
		}
	}
	tail, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)))
	if err != nil {
		return "", fmt.Errorf("read log %s: %w", path, err)
	}
	header := fmt.Sprintf("📂 ...Last %s of %s:\n\n", sizeLabel(maxBytes), filepath.Base(path))
	return header + strings.ToValidUTF8(string(tail), "\uFFFD"), nil
}

func sizeLabel(n int) string {
	if n%1024 == 0 {
		return fmt.Sprintf("%dKB", n/1024)
	}
	return fmt.Sprintf("%dB", n)
}
