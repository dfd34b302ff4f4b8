package transcribe

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	murmurerrors "murmur/internal/errors"
)

// decodeChunkSize is the fixed decode buffer. Long recordings arrive as
// multi-megabyte base64 strings; decoding through a bounded buffer keeps the
// peak allocation at one chunk plus the assembled output instead of three
// full copies of the payload.
const decodeChunkSize = 32 * 1024

// DecodeAudio converts a base64 payload into raw audio bytes, reading through
// fixed-size chunks reassembled in input order. Empty input maps to
// ErrEmptyAudio; payloads over MaxAudioBytes are rejected mid-decode without
// buffering the remainder.
func DecodeAudio(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, murmurerrors.ErrEmptyAudio
	}

	decoder := base64.NewDecoder(base64.StdEncoding, strings.NewReader(payload))
	var assembled bytes.Buffer
	chunk := make([]byte, decodeChunkSize)
	for {
		n, err := decoder.Read(chunk)
		if n > 0 {
			if assembled.Len()+n > MaxAudioBytes {
				return nil, fmt.Errorf("decoded audio exceeds %d byte limit", MaxAudioBytes)
			}
			assembled.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode audio payload: %w", err)
		}
	}
	if assembled.Len() == 0 {
		return nil, murmurerrors.ErrEmptyAudio
	}
	return assembled.Bytes(), nil
}
