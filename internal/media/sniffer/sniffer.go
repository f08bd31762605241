// Package sniffer classifies uploads by their leading magic bytes. Client
// supplied content types are never consulted.
package sniffer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// HeadSize is the number of leading bytes every signature fits into.
const HeadSize = 12

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooShort          = errors.New("image shorter than signature window")
)

// Format is the closed set of accepted image formats.
type Format int

const (
	FormatPNG Format = iota + 1
	FormatJPEG
	FormatWEBP
)

type formatInfo struct {
	name      string
	extension string
	mediaType string
}

var formats = map[Format]formatInfo{
	FormatPNG:  {name: "png", extension: "png", mediaType: "image/png"},
	FormatJPEG: {name: "jpeg", extension: "jpg", mediaType: "image/jpeg"},
	FormatWEBP: {name: "webp", extension: "webp", mediaType: "image/webp"},
}

func (f Format) String() string {
	if info, ok := formats[f]; ok {
		return info.name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// Extension is the canonical file extension, without the dot.
func (f Format) Extension() string {
	return formats[f].extension
}

func (f Format) MediaType() string {
	return formats[f].mediaType
}

type signature struct {
	offset int
	magic  []byte
}

// JPEG only matches the JFIF APP0 marker; EXIF (FF D8 FF E1) files are rejected.
var signatures = []struct {
	format Format
	parts  []signature
}{
	{FormatPNG, []signature{{0, []byte{0x89, 'P', 'N', 'G'}}}},
	{FormatJPEG, []signature{{0, []byte{0xff, 0xd8, 0xff, 0xe0}}}},
	{FormatWEBP, []signature{{0, []byte("RIFF")}, {8, []byte("WEBP")}}},
}

// DetectHead classifies the first HeadSize bytes of a file.
func DetectHead(head []byte) (Format, error) {
	if len(head) < HeadSize {
		return 0, ErrTooShort
	}
	head = head[:HeadSize]

	for _, sig := range signatures {
		if matches(head, sig.parts) {
			return sig.format, nil
		}
	}
	return 0, ErrUnsupportedFormat
}

// DetectAt reads the signature window with ReadAt, so no read offset shared
// with later full-content reads is moved.
func DetectAt(r io.ReaderAt) (Format, error) {
	if r == nil {
		return 0, ErrTooShort
	}
	head := make([]byte, HeadSize)
	n, err := r.ReadAt(head, 0)
	if n < HeadSize {
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("read head: %w", err)
		}
		return 0, ErrTooShort
	}
	return DetectHead(head)
}

// FormatFromMediaType maps a stored media type back to its format.
func FormatFromMediaType(mediaType string) (Format, bool) {
	for f, info := range formats {
		if info.mediaType == mediaType {
			return f, true
		}
	}
	return 0, false
}

// IsRejection reports whether err is a detection rejection rather than an I/O failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrTooShort)
}

func matches(head []byte, parts []signature) bool {
	for _, p := range parts {
		end := p.offset + len(p.magic)
		if end > len(head) || !bytes.Equal(head[p.offset:end], p.magic) {
			return false
		}
	}
	return true
}
