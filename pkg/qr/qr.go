// Package qr renders QR code PNGs for short links, either as raw bytes for
// object storage or as a data URI for inline display.
package qr

import (
	"encoding/base64"
	"errors"
	"strings"

	skipqrcode "github.com/skip2/go-qrcode"
)

var (
	// ErrEmptyContent indicates empty or whitespace-only content.
	ErrEmptyContent = errors.New("qr content cannot be empty")
	// ErrContentTooLong indicates the content exceeds QR capacity.
	ErrContentTooLong = errors.New("qr content too long")
	// ErrFailedToGenerate indicates the underlying encoder failed.
	ErrFailedToGenerate = errors.New("failed to generate qr code")
)

const (
	// DefaultSize is the rendered edge length in pixels.
	DefaultSize = 256
	// MaxSize caps render size; larger requests are clamped rather than
	// rejected so the endpoint stays forgiving.
	MaxSize = 1024

	// maxContentLen is the byte capacity of a QR code at medium error
	// correction.
	maxContentLen = 2331
)

// Generate renders content as a PNG QR code of the given edge size.
// Non-positive sizes fall back to DefaultSize, oversized ones clamp to
// MaxSize.
func Generate(content string, size int) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if len(content) > maxContentLen {
		return nil, ErrContentTooLong
	}

	switch {
	case size <= 0:
		size = DefaultSize
	case size > MaxSize:
		size = MaxSize
	}

	png, err := skipqrcode.Encode(content, skipqrcode.Medium, size)
	if err != nil {
		return nil, errors.Join(ErrFailedToGenerate, err)
	}
	return png, nil
}

// GenerateDataURI renders content as a data URI suitable for an <img> src.
func GenerateDataURI(content string, size int) (string, error) {
	png, err := Generate(content, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
