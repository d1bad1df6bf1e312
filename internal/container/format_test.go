// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package container

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniff(t *testing.T) {
	ebml := func(doc string) []byte {
		b := []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F, 0x42, 0x86, 0x81, 0x01}
		b = append(b, 0x42, 0x82, byte(0x80|len(doc)))
		return append(b, doc...)
	}
	riff := []byte("RIFF\x00\x00\x00\x00AVI LIST")
	asf := []byte{0x30, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11, 0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C, 0, 0}

	tests := []struct {
		name   string
		header []byte
		ext    string
		want   Format
	}{
		{"mp4 ftyp", []byte("\x00\x00\x00\x18ftypisom"), ".bin", FormatMP4},
		{"quicktime moov first", []byte("\x00\x00\x00\x08moov"), "", FormatMP4},
		{"webm doctype", ebml("webm"), ".mkv", FormatWebM},
		{"matroska doctype", ebml("matroska"), ".webm", FormatMatroska},
		{"avi", riff, "", FormatAVI},
		{"wmv", asf, "", FormatWMV},
		{"extension fallback", []byte("garbage!"), ".MOV", FormatMP4},
		{"unknown", []byte("garbage!"), ".txt", FormatUnknown},
		{"empty header", nil, ".mkv", FormatMatroska},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.header, tt.ext); got != tt.want {
				t.Fatalf("format mismatch: got=%q want=%q", got, tt.want)
			}
		})
	}
}

func TestFormatPredicates(t *testing.T) {
	for _, f := range []Format{FormatMP4, FormatWebM, FormatMatroska} {
		assert.True(t, f.Demuxable(), f)
		assert.False(t, f.Legacy(), f)
	}
	for _, f := range []Format{FormatAVI, FormatWMV} {
		assert.False(t, f.Demuxable(), f)
		assert.True(t, f.Legacy(), f)
	}
	assert.False(t, FormatUnknown.Demuxable())
}

func TestDetect_ShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.webm")
	require.NoError(t, os.WriteFile(path, []byte{0x1A, 0x45}, 0o600))
	f, err := Detect(path)
	require.NoError(t, err)
	assert.Equal(t, FormatWebM, f)
}

func TestDetect_MissingFile(t *testing.T) {
	_, err := Detect(filepath.Join(t.TempDir(), "nope.mp4"))
	require.Error(t, err)
}
