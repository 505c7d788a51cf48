package broker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// appendChunk opens the part file for append, writes data, flushes the OS
// buffer, and fsyncs the descriptor before returning, so that the invariant
// part-file-size == bytes_received holds the instant the write lock is
// released. The caller must hold the session's write lock.
func appendChunk(partPath string, data []byte) error {
	f, err := os.OpenFile(partPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("broker: open part file %s: %w", partPath, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("broker: write part file %s: %w", partPath, err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("broker: fsync part file %s: %w", partPath, err)
	}

	return nil
}

// partFileSize returns the current size of a part file on disk, or 0 if it
// does not yet exist.
func partFileSize(partPath string) (int64, error) {
	info, err := os.Stat(partPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("broker: stat part file %s: %w", partPath, err)
	}

	return info.Size(), nil
}

// finalizePartFile renames a finished part file into place, picking a free
// name by appending " (N)" before the extension if the candidate path
// already exists. Returns the path actually used.
func finalizePartFile(partPath string) (string, error) {
	candidate := finalCandidatePath(partPath)

	final, err := freeName(candidate)
	if err != nil {
		return "", err
	}

	if err := os.Rename(partPath, final); err != nil {
		return "", fmt.Errorf("broker: rename %s to %s: %w", partPath, final, err)
	}

	return final, nil
}

// freeName returns candidate if it does not exist, otherwise candidate with
// " (N)" inserted before the extension for the smallest N >= 1 that is free.
func freeName(candidate string) (string, error) {
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	} else if err != nil {
		return "", fmt.Errorf("broker: stat %s: %w", candidate, err)
	}

	ext := filepath.Ext(candidate)
	base := strings.TrimSuffix(candidate, ext)

	for n := 1; ; n++ {
		next := fmt.Sprintf("%s (%d)%s", base, n, ext)

		if _, err := os.Stat(next); os.IsNotExist(err) {
			return next, nil
		} else if err != nil {
			return "", fmt.Errorf("broker: stat %s: %w", next, err)
		}
	}
}

// deletePart removes a session's part file, tolerating its absence.
func deletePart(partPath string) error {
	if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("broker: delete part file %s: %w", partPath, err)
	}

	return nil
}

// deleteFinal removes a session's final-local file, tolerating its absence.
func deleteFinal(finalPath string) error {
	if finalPath == "" {
		return nil
	}

	if err := os.Remove(finalPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("broker: delete final file %s: %w", finalPath, err)
	}

	return nil
}
