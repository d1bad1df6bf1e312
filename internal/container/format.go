// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package container identifies input container formats from their header bytes.
package container

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format is the closed set of input container families.
type Format string

const (
	FormatMP4      Format = "mp4"
	FormatWebM     Format = "webm"
	FormatMatroska Format = "matroska"
	FormatAVI      Format = "avi"
	FormatWMV      Format = "wmv"
	FormatUnknown  Format = "unknown"
)

// SniffLen is the number of header bytes Detect reads.
const SniffLen = 4096

// Demuxable reports whether an in-process demuxer exists for f.
func (f Format) Demuxable() bool {
	switch f {
	case FormatMP4, FormatWebM, FormatMatroska:
		return true
	default:
		return false
	}
}

// Legacy reports containers that are always routed to a full transcode.
func (f Format) Legacy() bool {
	return f == FormatAVI || f == FormatWMV
}

func (f Format) String() string { return string(f) }

var (
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
	asfGUID   = []byte{0x30, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11, 0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C}
	// DocType element id followed by a one-byte size.
	docTypeWebM     = []byte{0x42, 0x82, 0x84, 'w', 'e', 'b', 'm'}
	docTypeMatroska = []byte{0x42, 0x82, 0x88, 'm', 'a', 't', 'r', 'o', 's', 'k', 'a'}
)

// leading box types seen at offset 4 of ISO-BMFF and QuickTime files.
var bmffBoxes = map[string]bool{
	"ftyp": true, "moov": true, "mdat": true, "free": true,
	"skip": true, "wide": true, "pnot": true, "styp": true,
}

// Sniff classifies header bytes, falling back to the file extension when the
// header is inconclusive.
func Sniff(header []byte, ext string) Format {
	switch {
	case len(header) >= 8 && bmffBoxes[string(header[4:8])]:
		return FormatMP4
	case bytes.HasPrefix(header, ebmlMagic):
		limit := header
		if len(limit) > 64 {
			limit = limit[:64]
		}
		if bytes.Contains(limit, docTypeWebM) {
			return FormatWebM
		}
		if bytes.Contains(limit, docTypeMatroska) {
			return FormatMatroska
		}
		if f := fromExt(ext); f == FormatWebM {
			return f
		}
		return FormatMatroska
	case len(header) >= 12 && string(header[0:4]) == "RIFF" && string(header[8:11]) == "AVI":
		return FormatAVI
	case bytes.HasPrefix(header, asfGUID):
		return FormatWMV
	}
	return fromExt(ext)
}

func fromExt(ext string) Format {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp4", "m4v", "mov", "3gp", "3g2", "qt":
		return FormatMP4
	case "webm":
		return FormatWebM
	case "mkv", "mk3d":
		return FormatMatroska
	case "avi":
		return FormatAVI
	case "wmv", "asf":
		return FormatWMV
	default:
		return FormatUnknown
	}
}

// Detect reads the header of the file at path and classifies it.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	header := make([]byte, SniffLen)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, fmt.Errorf("read input header: %w", err)
	}
	return Sniff(header[:n], filepath.Ext(path)), nil
}
