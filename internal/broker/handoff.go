package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/filebroker/broker/internal/catalog"
)

type handoffResponse struct {
	FileID string `json:"file_id"`
}

// handOff streams session's final-local file to the downstream store as the
// body of a single HTTP POST, per the required header contract. On 2xx
// success the local file is deleted only after the response body has been
// fully read and parsed; on any failure the local file is retained for
// diagnosis.
func (b *Broker) handOff(ctx context.Context, session *UploadSession) (string, error) {
	f, err := os.Open(session.FinalLocalPath)
	if err != nil {
		return "", fmt.Errorf("%w: opening final file: %v", ErrIO, err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.DownstreamURL, f)
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ErrDownstream, err)
	}

	if !b.handoffUsesOAuth {
		req.Header.Set("Authorization", "Bearer "+b.cfg.DownstreamToken)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-File-Name", session.FileName)
	req.Header.Set("X-File-Size", strconv.FormatInt(session.FileSize, 10))
	req.Header.Set("X-File-ID", session.FileID)

	if session.FolderID != "" {
		req.Header.Set("X-Folder-ID", session.FolderID)
	}

	resp, err := b.handoffClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: downstream returned HTTP %d", ErrDownstream, resp.StatusCode)
	}

	var parsed handoffResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decoding downstream response: %v", ErrDownstream, err)
	}

	if err := os.Remove(session.FinalLocalPath); err != nil && !os.IsNotExist(err) {
		b.logger.Warn("hand-off: failed to delete local file after successful hand-off",
			"fileId", session.FileID, "err", err)
	}

	return parsed.FileID, nil
}

// catalogEntry builds the catalog.Entry notification for a newly created
// session, sent once by HandleStart's Register call.
func catalogEntry(session *UploadSession) catalog.Entry {
	return catalog.Entry{
		Name:     session.FileName,
		Size:     session.FileSize,
		Owner:    "",
		FolderID: session.FolderID,
	}
}
