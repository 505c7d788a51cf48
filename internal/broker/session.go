package broker

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Status is a session's position in the state machine.
type Status string

const (
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusCompleting Status = "completing"
	StatusUploading  Status = "uploading"
	StatusCompleted  Status = "completed"
	StatusStopped    Status = "stopped"
	StatusError      Status = "error"
)

// UploadSession is the per-file-id unit of state for an in-flight or
// finished upload. One exists per file-id for the lifetime the registry
// retains it; fields other than writeLock are only ever mutated under
// writeLock or by the owning state-machine transition.
type UploadSession struct {
	FileID   string
	FileName string
	FileSize int64
	FolderID string

	Status        Status
	BytesReceived int64

	PartPath       string
	FinalLocalPath string

	RemoteFileID string
	CatalogID    string

	writeLock sync.Mutex
}

// sanitizeName reduces a client-supplied file name to its basename and
// rejects any path separator, so a malicious fileName cannot escape the
// staging directory.
func sanitizeName(name string) string {
	name = filepath.Base(name)

	if name == "." || name == "/" || name == "" {
		return "unnamed"
	}

	return name
}

// partPath returns the stable on-disk path for a session's in-flight part
// file, derived from the file-id and sanitized name.
func partPath(stagingDir, fileID, fileName string) string {
	return filepath.Join(stagingDir, fmt.Sprintf("%s_%s.part", fileID, sanitizeName(fileName)))
}

// finalCandidatePath returns the path a part file would take if renamed
// without a collision, i.e. the part path with ".part" dropped.
func finalCandidatePath(partPath string) string {
	return strings.TrimSuffix(partPath, ".part")
}

// DownloadSession is the per-file-id unit of state for an in-flight or
// finished download.
type DownloadSession struct {
	SessionID string
	URL       string
	Filename  string
	TotalSize int64

	Status          Status
	DownloadedBytes int64

	TempPath string
	DestPath string

	cancel func()

	writeLock sync.Mutex
}
