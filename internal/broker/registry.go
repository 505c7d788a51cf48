package broker

import (
	"log/slog"
	"sync"
)

// Registry is the process-wide, file-id-keyed mapping of upload sessions,
// plus the connection-to-subscriptions map the multiplexer drives. All
// access to either map goes through Registry's own lock; the session's own
// writeLock is a separate, finer-grained lock for part-file mutation.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*UploadSession

	// subscribers maps a file-id to the set of connections currently
	// attached to it, keyed by connection id so a connection can only
	// subscribe once.
	subscribers map[string]map[string]Connection

	// connSessions is the inverse index: connection id to the set of
	// file-ids it is subscribed to, used to downgrade sessions on close.
	connSessions map[string]map[string]struct{}

	stagingDir string
	logger     *slog.Logger
}

// NewRegistry constructs an empty Registry rooted at stagingDir.
func NewRegistry(stagingDir string, logger *slog.Logger) *Registry {
	return &Registry{
		sessions:     make(map[string]*UploadSession),
		subscribers:  make(map[string]map[string]Connection),
		connSessions: make(map[string]map[string]struct{}),
		stagingDir:   stagingDir,
		logger:       logger,
	}
}

// Get returns the session for fileID, if any.
func (r *Registry) Get(fileID string) (*UploadSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[fileID]
	return s, ok
}

// GetOrCreate implements the idempotent start-time reconciliation described
// for the session registry: if fileID is new, a session is created with
// bytes_received read from any pre-existing part file (normally zero). If
// fileID already exists, file_name, file_size, folder_id and part_path are
// refreshed and bytes_received is re-read from disk truth. This function is
// the only place the offset is reconciled from disk; callers must not call
// it mid-stream.
func (r *Registry) GetOrCreate(fileID, fileName string, fileSize int64, folderID string) (*UploadSession, error) {
	r.mu.Lock()
	s, exists := r.sessions[fileID]
	if !exists {
		s = &UploadSession{
			FileID:   fileID,
			FileName: sanitizeName(fileName),
			FileSize: fileSize,
			FolderID: folderID,
			Status:   StatusActive,
		}
		s.PartPath = partPath(r.stagingDir, fileID, s.FileName)
		r.sessions[fileID] = s
	}
	r.mu.Unlock()

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if exists {
		s.FileName = sanitizeName(fileName)
		s.FileSize = fileSize
		s.FolderID = folderID
		s.PartPath = partPath(r.stagingDir, fileID, s.FileName)
	}

	size, err := partFileSize(s.PartPath)
	if err != nil {
		return nil, err
	}

	s.BytesReceived = size

	return s, nil
}

// Remove deletes a session from the registry. Called only on terminal
// transitions. Subscriptions to fileID are kept until each connection
// detaches, so an error for a later message naming the removed file-id
// still reaches the connections that were attached to it.
func (r *Registry) Remove(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, fileID)
}

// Attach subscribes conn to fileID's event stream.
func (r *Registry) Attach(conn Connection, fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subscribers[fileID] == nil {
		r.subscribers[fileID] = make(map[string]Connection)
	}
	r.subscribers[fileID][conn.ID()] = conn

	if r.connSessions[conn.ID()] == nil {
		r.connSessions[conn.ID()] = make(map[string]struct{})
	}
	r.connSessions[conn.ID()][fileID] = struct{}{}
}

// Detach removes every subscription conn held and returns the file-ids it
// was subscribed to, so the caller can downgrade their sessions.
func (r *Registry) Detach(conn Connection) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	fileIDs := make([]string, 0, len(r.connSessions[conn.ID()]))
	for fileID := range r.connSessions[conn.ID()] {
		fileIDs = append(fileIDs, fileID)

		if subs, ok := r.subscribers[fileID]; ok {
			delete(subs, conn.ID())
		}
	}

	delete(r.connSessions, conn.ID())

	return fileIDs
}

// Broadcast delivers ev to every connection currently subscribed to fileID.
// It iterates a snapshot of the subscriber set so connection churn during
// broadcast cannot produce a torn read, and a send failure on one
// connection never prevents delivery to the others.
func (r *Registry) Broadcast(fileID string, ev Event) {
	r.mu.Lock()
	snapshot := make([]Connection, 0, len(r.subscribers[fileID]))
	for _, conn := range r.subscribers[fileID] {
		snapshot = append(snapshot, conn)
	}
	r.mu.Unlock()

	for _, conn := range snapshot {
		if err := conn.Send(ev); err != nil {
			r.logger.Warn("broadcast send failed",
				slog.String("fileId", fileID),
				slog.String("connId", conn.ID()),
				slog.Any("err", err),
			)
		}
	}
}
