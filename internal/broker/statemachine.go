package broker

import (
	"context"
	"log/slog"
)

// HandleConnectionClose downgrades every session conn was subscribed to
// from active to paused, then drops its subscriptions. The session itself
// is retained in the registry for resumption from any later connection.
func (b *Broker) HandleConnectionClose(conn Connection) {
	fileIDs := b.registry.Detach(conn)

	for _, fileID := range fileIDs {
		session, ok := b.registry.Get(fileID)
		if !ok {
			continue
		}

		session.writeLock.Lock()
		if session.Status == StatusActive {
			session.Status = StatusPaused
		}
		session.writeLock.Unlock()
	}
}

// HandleStart implements the "start" action: create-or-attach a session and
// emit start-ack. A file-id already in a finalize-adjacent state is
// rejected outright, so a finalized transfer can never be re-opened.
func (b *Broker) HandleStart(ctx context.Context, conn Connection, fileID, fileName string, fileSize int64, folderID string) {
	if existing, ok := b.registry.Get(fileID); ok {
		switch existing.Status {
		case StatusCompleting, StatusUploading, StatusCompleted:
			conn.Send(errorEvent(fileID, "cannot start: file is already finalizing or finalized"))
			return
		}
	}

	session, err := b.registry.GetOrCreate(fileID, fileName, fileSize, folderID)
	if err != nil {
		b.logger.Error("start: registry error", slog.String("fileId", fileID), slog.Any("err", err))
		conn.Send(errorEvent(fileID, "internal error creating session"))
		return
	}

	session.writeLock.Lock()
	isNew := session.CatalogID == ""
	if session.Status == "" || session.Status == StatusPaused || session.Status == StatusStopped || session.Status == StatusError || session.Status == StatusCompleted {
		session.Status = StatusActive
	}
	offset := session.BytesReceived
	status := session.Status
	entry := catalogEntry(session)
	session.writeLock.Unlock()

	if isNew && b.catalog != nil {
		if id, err := b.catalog.Register(ctx, entry); err != nil {
			b.logger.Warn("catalog register failed", slog.String("fileId", fileID), slog.Any("err", err))
		} else {
			session.writeLock.Lock()
			session.CatalogID = id
			session.writeLock.Unlock()
		}
	}

	b.registry.Attach(conn, fileID)

	conn.Send(Event{Name: "start-ack", FileID: fileID, Fields: map[string]any{
		"offset": offset,
		"status": status,
	}})
}

// HandleChunk implements the "chunk" action.
func (b *Broker) HandleChunk(ctx context.Context, fileID string, offset int64, dataB64 string) {
	session, ok := b.registry.Get(fileID)
	if !ok {
		b.registry.Broadcast(fileID, errorEvent(fileID, "unknown file-id"))
		return
	}

	session.writeLock.Lock()
	defer session.writeLock.Unlock()

	switch session.Status {
	case StatusStopped, StatusCompleted, StatusError, StatusUploading:
		b.registry.Broadcast(fileID, errorEvent(fileID, "chunk rejected: session is not accepting writes"))
		return
	case StatusPaused:
		b.registry.Broadcast(fileID, Event{Name: "paused", FileID: fileID, Fields: map[string]any{
			"offset": session.BytesReceived,
		}})
		return
	case StatusActive:
		// fall through
	default:
		b.registry.Broadcast(fileID, errorEvent(fileID, "chunk rejected: invalid session state"))
		return
	}

	if offset != session.BytesReceived {
		b.registry.Broadcast(fileID, Event{Name: "offset-mismatch", FileID: fileID, Fields: map[string]any{
			"expected": session.BytesReceived,
			"received": offset,
		}})
		return
	}

	decoded, err := decodeChunk(dataB64)
	if err != nil {
		b.registry.Broadcast(fileID, errorEvent(fileID, "invalid base64 chunk data"))
		return
	}

	if err := appendChunk(session.PartPath, decoded); err != nil {
		b.logger.Error("chunk append failed", slog.String("fileId", fileID), slog.Any("err", err))
		session.Status = StatusError
		b.updateCatalogStatus(ctx, session, "")
		b.registry.Broadcast(fileID, errorEvent(fileID, "failed to write chunk to disk"))
		return
	}

	session.BytesReceived += int64(len(decoded))

	b.registry.Broadcast(fileID, Event{Name: "chunk-ack", FileID: fileID, Fields: map[string]any{
		"offset":        session.BytesReceived,
		"receivedBytes": session.BytesReceived,
		"percent":       percent(session.BytesReceived, session.FileSize),
	}})

	if session.BytesReceived >= session.FileSize {
		session.Status = StatusCompleting
		b.registry.Broadcast(fileID, Event{Name: "local-complete", FileID: fileID, Fields: nil})
	}
}

// HandlePause implements the "pause" action.
func (b *Broker) HandlePause(ctx context.Context, fileID string) {
	session, ok := b.registry.Get(fileID)
	if !ok {
		b.registry.Broadcast(fileID, errorEvent(fileID, "unknown file-id"))
		return
	}

	session.writeLock.Lock()
	if session.Status == StatusActive {
		session.Status = StatusPaused
	}
	offset := session.BytesReceived
	b.updateCatalogStatus(ctx, session, "")
	session.writeLock.Unlock()

	b.registry.Broadcast(fileID, Event{Name: "paused", FileID: fileID, Fields: map[string]any{"offset": offset}})
}

// HandleResume implements the "resume" action.
func (b *Broker) HandleResume(ctx context.Context, fileID string) {
	session, ok := b.registry.Get(fileID)
	if !ok {
		b.registry.Broadcast(fileID, errorEvent(fileID, "unknown file-id"))
		return
	}

	session.writeLock.Lock()
	if session.Status == StatusPaused {
		session.Status = StatusActive
	}
	offset := session.BytesReceived
	b.updateCatalogStatus(ctx, session, "")
	session.writeLock.Unlock()

	b.registry.Broadcast(fileID, Event{Name: "resume-ack", FileID: fileID, Fields: map[string]any{"offset": offset}})
}

// HandleStop implements the "stop" action: terminate a session from any
// non-terminal state, optionally deleting its on-disk artifacts and its
// catalog entry.
func (b *Broker) HandleStop(ctx context.Context, fileID string, delete bool) {
	session, ok := b.registry.Get(fileID)
	if !ok {
		b.registry.Broadcast(fileID, errorEvent(fileID, "unknown file-id"))
		return
	}

	session.writeLock.Lock()
	session.Status = StatusStopped
	b.updateCatalogStatus(ctx, session, "")

	if delete {
		if err := deletePart(session.PartPath); err != nil {
			b.logger.Error("stop: delete part failed", slog.String("fileId", fileID), slog.Any("err", err))
		}

		if err := deleteFinal(session.FinalLocalPath); err != nil {
			b.logger.Error("stop: delete final failed", slog.String("fileId", fileID), slog.Any("err", err))
		}

		if b.catalog != nil && session.CatalogID != "" {
			if err := b.catalog.Delete(ctx, session.CatalogID); err != nil {
				b.logger.Warn("catalog delete failed", slog.String("fileId", fileID), slog.Any("err", err))
			}
		}
	}
	session.writeLock.Unlock()

	b.registry.Broadcast(fileID, Event{Name: "stop-ack", FileID: fileID})
	b.registry.Remove(fileID)
}

// updateCatalogStatus notifies the catalog of session's current status,
// keyed by the ID its Register call returned. A session with no catalog ID
// (no collaborator configured, or the initial Register failed) is skipped.
// The caller must hold session's write lock.
func (b *Broker) updateCatalogStatus(ctx context.Context, session *UploadSession, finalPath string) {
	if b.catalog == nil || session.CatalogID == "" {
		return
	}

	if err := b.catalog.Update(ctx, session.CatalogID, string(session.Status), finalPath); err != nil {
		b.logger.Warn("catalog update failed", slog.String("fileId", session.FileID), slog.Any("err", err))
	}
}

// HandleComplete implements the "complete" action: finalize the part file
// and begin the remote hand-off. Size is re-checked against disk truth, not
// just bytes_received, so a torn write can never slip through.
func (b *Broker) HandleComplete(ctx context.Context, fileID string) {
	session, ok := b.registry.Get(fileID)
	if !ok {
		b.registry.Broadcast(fileID, errorEvent(fileID, "unknown file-id"))
		return
	}

	session.writeLock.Lock()

	switch session.Status {
	case StatusStopped, StatusCompleted, StatusError, StatusUploading:
		session.writeLock.Unlock()
		b.registry.Broadcast(fileID, errorEvent(fileID, "complete rejected: invalid session state"))
		return
	}

	diskSize, err := partFileSize(session.PartPath)
	if err != nil {
		session.writeLock.Unlock()
		b.logger.Error("complete: stat failed", slog.String("fileId", fileID), slog.Any("err", err))
		b.registry.Broadcast(fileID, errorEvent(fileID, "failed to verify part file size"))
		return
	}

	if diskSize != session.FileSize {
		session.writeLock.Unlock()
		b.registry.Broadcast(fileID, errorEvent(fileID, "Size mismatch: declared size does not match bytes received"))
		return
	}

	session.Status = StatusUploading

	finalPath, err := finalizePartFile(session.PartPath)
	if err != nil {
		session.Status = StatusError
		b.updateCatalogStatus(ctx, session, "")
		session.writeLock.Unlock()
		b.logger.Error("complete: finalize failed", slog.String("fileId", fileID), slog.Any("err", err))
		b.registry.Broadcast(fileID, errorEvent(fileID, "failed to finalize local file"))
		return
	}

	session.FinalLocalPath = finalPath
	b.updateCatalogStatus(ctx, session, finalPath)
	session.writeLock.Unlock()

	b.registry.Broadcast(fileID, Event{Name: "uploading", FileID: fileID})

	b.runHandoff(ctx, session)
}

// runHandoff invokes the remote hand-off and reconciles the resulting
// terminal state. Split out of HandleComplete so it can run without holding
// the session lock across the network request.
func (b *Broker) runHandoff(ctx context.Context, session *UploadSession) {
	remoteID, err := b.handOff(ctx, session)

	session.writeLock.Lock()
	defer session.writeLock.Unlock()

	if err != nil {
		session.Status = StatusError
		b.updateCatalogStatus(ctx, session, "")
		b.logger.Warn("hand-off failed", slog.String("fileId", session.FileID), slog.Any("err", err))
		b.registry.Broadcast(session.FileID, errorEvent(session.FileID, err.Error()))
		return
	}

	session.Status = StatusCompleted
	session.RemoteFileID = remoteID
	b.updateCatalogStatus(ctx, session, session.FinalLocalPath)

	b.registry.Broadcast(session.FileID, Event{Name: "complete-ack", FileID: session.FileID, Fields: map[string]any{
		"remoteFileId": remoteID,
		"status":       "uploaded_to_remote",
	}})

	b.registry.Remove(session.FileID)
}
