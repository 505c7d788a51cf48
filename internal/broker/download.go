package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const downloadProgressInterval = 250 * time.Millisecond

func (b *Broker) getDownload(fileID string) (*DownloadSession, bool) {
	b.downloadsMu.Lock()
	defer b.downloadsMu.Unlock()

	d, ok := b.downloads[fileID]
	return d, ok
}

func (b *Broker) putDownload(d *DownloadSession) {
	b.downloadsMu.Lock()
	b.downloads[d.SessionID] = d
	b.downloadsMu.Unlock()
}

func (b *Broker) removeDownload(fileID string) {
	b.downloadsMu.Lock()
	delete(b.downloads, fileID)
	b.downloadsMu.Unlock()
}

// HandleDownloadStart implements "download-start": begin (or resume, if a
// session already exists) fetching url to a temp file. Acknowledgment is
// "download-start-ack", not the upload path's "start-ack" — the two
// protocols share no terminal or acknowledgment event names except
// "download-progress".
func (b *Broker) HandleDownloadStart(conn Connection, fileID, url, filename string) {
	b.registry.Attach(conn, fileID)

	d, exists := b.getDownload(fileID)
	if !exists {
		if filename == "" {
			filename = filepath.Base(url)
		}

		d = &DownloadSession{
			SessionID: fileID,
			URL:       url,
			Filename:  sanitizeName(filename),
			Status:    StatusActive,
			TempPath:  filepath.Join(b.cfg.DownloadsDir, sanitizeName(filename)+".tmp"),
		}
		b.putDownload(d)
	} else {
		d.writeLock.Lock()
		d.Status = StatusActive
		d.writeLock.Unlock()
	}

	d.writeLock.Lock()
	offset := d.DownloadedBytes
	d.writeLock.Unlock()

	b.registry.Broadcast(fileID, Event{Name: "download-start-ack", FileID: fileID, Fields: map[string]any{
		"filename": d.Filename,
		"offset":   offset,
	}})

	go b.runDownload(d)
}

// HandleDownloadPause cancels the in-flight request but keeps the temp file.
func (b *Broker) HandleDownloadPause(fileID string) {
	d, ok := b.getDownload(fileID)
	if !ok {
		b.registry.Broadcast(fileID, downloadErrorEvent(fileID, "unknown download session"))
		return
	}

	d.writeLock.Lock()
	d.Status = StatusPaused
	if d.cancel != nil {
		d.cancel()
	}
	d.writeLock.Unlock()

	b.registry.Broadcast(fileID, Event{Name: "download-pause-ack", FileID: fileID})
}

// HandleDownloadResume re-issues the Range request from where it left off.
// "download-resume-ack" is sent as soon as the resume is accepted, before
// the new request is issued; a session that cannot be resumed gets
// "download-error" instead, matching
// the original's resume_download returning false for anything but a
// paused session.
func (b *Broker) HandleDownloadResume(fileID string) {
	d, ok := b.getDownload(fileID)
	if !ok {
		b.registry.Broadcast(fileID, downloadErrorEvent(fileID, "unknown download session"))
		return
	}

	d.writeLock.Lock()
	if d.Status != StatusPaused {
		status := d.Status
		d.writeLock.Unlock()
		b.registry.Broadcast(fileID, downloadErrorEvent(fileID, fmt.Sprintf("cannot resume from status %q", status)))
		return
	}
	d.Status = StatusActive
	d.writeLock.Unlock()

	b.registry.Broadcast(fileID, Event{Name: "download-resume-ack", FileID: fileID})

	go b.runDownload(d)
}

// HandleDownloadStop cancels the in-flight request, deletes the temp file,
// and removes the session.
func (b *Broker) HandleDownloadStop(fileID string) {
	d, ok := b.getDownload(fileID)
	if !ok {
		b.registry.Broadcast(fileID, downloadErrorEvent(fileID, "unknown download session"))
		return
	}

	d.writeLock.Lock()
	d.Status = StatusStopped
	if d.cancel != nil {
		d.cancel()
	}
	tempPath := d.TempPath
	d.writeLock.Unlock()

	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		b.logger.Warn("download-stop: failed to delete temp file", "fileId", fileID, "err", err)
	}

	b.removeDownload(fileID)

	b.registry.Broadcast(fileID, Event{Name: "download-stop-ack", FileID: fileID})
}

// runDownload performs one GET (with Range if resuming), streaming the
// response to the temp file and emitting throttled progress events. On
// completion it moves the temp file into the downloads directory under a
// collision-free name.
func (b *Broker) runDownload(d *DownloadSession) {
	ctx, cancel := context.WithCancel(context.Background())

	d.writeLock.Lock()
	d.cancel = cancel
	resuming := d.DownloadedBytes > 0
	d.writeLock.Unlock()

	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		b.failDownload(d, fmt.Sprintf("building request: %v", err))
		return
	}

	if resuming {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", d.DownloadedBytes))
	}

	resp, err := b.downloadClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return // cancelled by pause/stop, not an error
		}
		b.failDownload(d, fmt.Sprintf("fetching url: %v", err))
		return
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if resuming && resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		// Either a fresh download, or the server ignored our Range request
		// and restarted the body: reset progress, total size, and truncate.
		d.writeLock.Lock()
		d.DownloadedBytes = 0
		d.TotalSize = 0
		d.writeLock.Unlock()
		flags |= os.O_TRUNC
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		b.failDownload(d, fmt.Sprintf("downstream returned HTTP %d", resp.StatusCode))
		return
	}

	d.writeLock.Lock()
	if d.TotalSize == 0 {
		if cl := resp.ContentLength; cl > 0 {
			if resp.StatusCode == http.StatusPartialContent {
				d.TotalSize = d.DownloadedBytes + cl
			} else {
				d.TotalSize = cl
			}
		}
	}
	totalSize := d.TotalSize
	d.writeLock.Unlock()

	b.registry.Broadcast(d.SessionID, Event{Name: "download-info", FileID: d.SessionID, Fields: map[string]any{
		"totalSize":      totalSize,
		"supportsResume": resp.StatusCode == http.StatusPartialContent,
	}})

	f, err := os.OpenFile(d.TempPath, flags, 0o644)
	if err != nil {
		b.failDownload(d, fmt.Sprintf("opening temp file: %v", err))
		return
	}
	defer f.Close()

	if err := b.streamDownload(ctx, d, resp.Body, f); err != nil {
		if ctx.Err() != nil {
			return
		}
		b.failDownload(d, fmt.Sprintf("streaming response: %v", err))
		return
	}

	b.finishDownload(d)
}

func (b *Broker) streamDownload(ctx context.Context, d *DownloadSession, src io.Reader, dst *os.File) error {
	buf := make([]byte, 32*1024)
	lastEmit := time.Time{}

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}

			d.writeLock.Lock()
			d.DownloadedBytes += int64(n)
			bytesSoFar := d.DownloadedBytes
			d.writeLock.Unlock()

			if time.Since(lastEmit) >= downloadProgressInterval {
				lastEmit = time.Now()
				b.registry.Broadcast(d.SessionID, Event{Name: "download-progress", FileID: d.SessionID, Fields: map[string]any{
					"downloadedBytes": bytesSoFar,
					"totalSize":       d.TotalSize,
				}})
			}
		}

		if readErr == io.EOF {
			return nil
		}

		if readErr != nil {
			return readErr
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (b *Broker) finishDownload(d *DownloadSession) {
	dest := filepath.Join(b.cfg.DownloadsDir, d.Filename)

	final, err := freeNameWithSuffix(dest)
	if err != nil {
		b.failDownload(d, fmt.Sprintf("choosing destination name: %v", err))
		return
	}

	if err := os.Rename(d.TempPath, final); err != nil {
		b.failDownload(d, fmt.Sprintf("moving file into place: %v", err))
		return
	}

	d.writeLock.Lock()
	d.Status = StatusCompleted
	d.DestPath = final
	totalSize := d.DownloadedBytes
	d.writeLock.Unlock()

	b.registry.Broadcast(d.SessionID, Event{Name: "download-complete", FileID: d.SessionID, Fields: map[string]any{
		"filename":  filepath.Base(final),
		"filePath":  final,
		"totalSize": totalSize,
	}})

	b.removeDownload(d.SessionID)
}

func (b *Broker) failDownload(d *DownloadSession, message string) {
	d.writeLock.Lock()
	d.Status = StatusError
	d.writeLock.Unlock()

	b.registry.Broadcast(d.SessionID, downloadErrorEvent(d.SessionID, message))
}

// downloadErrorEvent builds the download protocol's terminal error event,
// kept distinct from the upload path's "error" event since the two
// protocols otherwise never overlap in event names.
func downloadErrorEvent(fileID, message string) Event {
	return Event{Name: "download-error", FileID: fileID, Fields: map[string]any{"error": message}}
}

// freeNameWithSuffix returns candidate if free, otherwise candidate with a
// "_N" suffix inserted before the extension for the smallest free N >= 1.
func freeNameWithSuffix(candidate string) (string, error) {
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	} else if err != nil {
		return "", fmt.Errorf("broker: stat %s: %w", candidate, err)
	}

	ext := filepath.Ext(candidate)
	base := candidate[:len(candidate)-len(ext)]

	for n := 1; ; n++ {
		next := fmt.Sprintf("%s_%d%s", base, n, ext)

		if _, err := os.Stat(next); os.IsNotExist(err) {
			return next, nil
		} else if err != nil {
			return "", fmt.Errorf("broker: stat %s: %w", next, err)
		}
	}
}
