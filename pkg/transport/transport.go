// Package transport encodes recorded audio for the askbob endpoint, which
// takes the clip as a base64 text body.
package transport

import (
	"encoding/base64"
	"fmt"
)

const ContentType = "text/plain"

// Encode returns the standard base64 form of buf. An empty buffer encodes to
// an empty string.
func Encode(buf []byte) string {
	return base64.StdEncoding.EncodeToString(buf)
}

// Decode reverses Encode. It never returns a nil slice on success.
func Decode(payload string) ([]byte, error) {
	if payload == "" {
		return []byte{}, nil
	}
	buf, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return buf, nil
}
