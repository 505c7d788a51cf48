package broker

import "encoding/base64"

// decodeChunk base64-decodes a chunk payload. The caller treats a decode
// failure as a per-message protocol error that does not change session
// state.
func decodeChunk(data string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	return decoded, nil
}

// percent computes the clamped-to-100 completion percentage for a session.
func percent(received, total int64) float64 {
	if total <= 0 {
		return 100
	}

	pct := float64(received) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}

	return pct
}
