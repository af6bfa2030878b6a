// Package b64img moves raw image bytes through JSON-only boundaries
// (the images.file column and task payloads) as base64 text.
package b64img

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrUnsupportedFormat = errors.New("image must be jpg or png format")

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
)

func Encode(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

func Decode(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image payload: %w", err)
	}
	return raw, nil
}

// DetectFormat sniffs the leading bytes. It returns "jpeg" or "png".
func DetectFormat(raw []byte) (string, error) {
	switch {
	case bytes.HasPrefix(raw, jpegMagic):
		return "jpeg", nil
	case bytes.HasPrefix(raw, pngMagic):
		return "png", nil
	}
	return "", ErrUnsupportedFormat
}

func AllowedExtension(filename string) bool {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "jpg", "jpeg", "png":
		return true
	}
	return false
}
