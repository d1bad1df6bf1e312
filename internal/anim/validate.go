// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package anim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image/gif"

	"golang.org/x/image/webp"
)

const (
	minWebPSize = 26
	minGIFSize  = 14
	// scanLimit bounds the chunk scan; animation chunks sit near the start.
	scanLimit = 1 << 20
)

// Report describes a validated output.
type Report struct {
	Format   Format
	Size     int
	Width    int
	Height   int
	Animated bool
	// Frames is the number of frames found in the scanned prefix.
	Frames   int
	Decoded  bool
	Warnings []string
}

// Validate checks an encoder's output independently of the encoder. Size,
// magic and flag-consistency problems wrap ErrOutputValidation; a host decode
// failure on a structurally valid animation is only a warning.
func Validate(data []byte, format Format) (Report, error) {
	rep := Report{Format: format, Size: len(data)}
	switch format {
	case FormatWebP:
		return validateWebP(data, rep)
	case FormatGIF:
		return validateGIF(data, rep)
	default:
		return rep, fmt.Errorf("%w: unknown format %q", ErrOutputValidation, format)
	}
}

func validateWebP(data []byte, rep Report) (Report, error) {
	if len(data) < minWebPSize {
		return rep, fmt.Errorf("%w: %d bytes is too small for webp", ErrOutputValidation, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return rep, fmt.Errorf("%w: missing RIFF/WEBP magic", ErrOutputValidation)
	}
	scan, err := scanWebP(data, scanLimit)
	if err != nil {
		return rep, fmt.Errorf("%w: %w", ErrOutputValidation, err)
	}
	if err := scan.consistency(); err != nil {
		return rep, err
	}
	rep.Animated = scan.animated()
	rep.Frames = max(scan.frames, 1)
	rep.Width, rep.Height = scan.width, scan.height

	if _, err := webp.Decode(bytes.NewReader(data)); err != nil {
		if !rep.Animated {
			return rep, fmt.Errorf("%w: still webp does not decode: %w", ErrOutputValidation, err)
		}
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("host webp decoder rejected animation: %v", err))
		return rep, nil
	}
	rep.Decoded = true
	return rep, nil
}

func validateGIF(data []byte, rep Report) (Report, error) {
	if len(data) < minGIFSize {
		return rep, fmt.Errorf("%w: %d bytes is too small for gif", ErrOutputValidation, len(data))
	}
	if magic := string(data[0:6]); magic != "GIF87a" && magic != "GIF89a" {
		return rep, fmt.Errorf("%w: missing GIF magic", ErrOutputValidation)
	}
	frames, err := walkGIF(data)
	if err != nil {
		return rep, fmt.Errorf("%w: %w", ErrOutputValidation, err)
	}
	rep.Frames = frames
	rep.Animated = frames > 1
	rep.Width = int(binary.LittleEndian.Uint16(data[6:8]))
	rep.Height = int(binary.LittleEndian.Uint16(data[8:10]))

	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("host gif decoder failed: %v", err))
		return rep, nil
	}
	rep.Decoded = true
	rep.Frames = len(g.Image)
	rep.Animated = len(g.Image) > 1
	rep.Width, rep.Height = g.Config.Width, g.Config.Height
	return rep, nil
}

// walkGIF checks the block layout of a GIF stream (screen descriptor,
// extension and image blocks, trailer) and counts its images. Pixel data is
// not decoded.
func walkGIF(data []byte) (int, error) {
	if binary.LittleEndian.Uint16(data[6:8]) == 0 || binary.LittleEndian.Uint16(data[8:10]) == 0 {
		return 0, errors.New("gif: zero logical screen size")
	}
	pos := 13
	if flags := data[10]; flags&0x80 != 0 {
		pos += 3 << (flags&0x07 + 1)
	}
	frames := 0
	for {
		if pos >= len(data) {
			return 0, errors.New("gif: missing trailer")
		}
		switch data[pos] {
		case 0x3B:
			if frames == 0 {
				return 0, errors.New("gif: no image blocks")
			}
			return frames, nil
		case 0x21:
			if pos+2 > len(data) {
				return 0, errors.New("gif: truncated extension")
			}
			end, err := skipSubBlocks(data, pos+2)
			if err != nil {
				return 0, err
			}
			pos = end
		case 0x2C:
			if pos+10 > len(data) {
				return 0, errors.New("gif: truncated image descriptor")
			}
			w := binary.LittleEndian.Uint16(data[pos+5 : pos+7])
			h := binary.LittleEndian.Uint16(data[pos+7 : pos+9])
			if w == 0 || h == 0 {
				return 0, fmt.Errorf("gif: empty image %d", frames)
			}
			flags := data[pos+9]
			pos += 10
			if flags&0x80 != 0 {
				pos += 3 << (flags&0x07 + 1)
			}
			// LZW minimum code size
			if pos >= len(data) || data[pos] < 2 || data[pos] > 8 {
				return 0, fmt.Errorf("gif: bad LZW code size in image %d", frames)
			}
			end, err := skipSubBlocks(data, pos+1)
			if err != nil {
				return 0, err
			}
			pos = end
			frames++
		default:
			return 0, fmt.Errorf("gif: unknown block type 0x%02x at %d", data[pos], pos)
		}
	}
}

// skipSubBlocks returns the offset after a data sub-block chain.
func skipSubBlocks(data []byte, pos int) (int, error) {
	for {
		if pos >= len(data) {
			return 0, errors.New("gif: truncated data sub-blocks")
		}
		n := int(data[pos])
		pos++
		if n == 0 {
			return pos, nil
		}
		pos += n
	}
}
