// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"bufio"
	"bytes"
	"strings"
)

// Listing is a parsed "ffmpeg -decoders" / "-encoders" table keyed by codec name.
type Listing map[string]ListingEntry

// ListingEntry is a single row of a codec listing.
type ListingEntry struct {
	Name        string
	Kind        byte // 'V', 'A' or 'S'
	Description string
}

// Has reports whether name is listed.
func (l Listing) Has(name string) bool {
	_, ok := l[name]
	return ok
}

// ParseListing parses the output of "ffmpeg -hide_banner -decoders" or "-encoders".
// Rows before the "------" separator are the legend and are skipped.
func ParseListing(out []byte) Listing {
	res := make(Listing)
	sc := bufio.NewScanner(bytes.NewReader(out))
	inTable := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !inTable {
			if strings.HasPrefix(line, "------") {
				inTable = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		entry := ListingEntry{
			Name: fields[1],
			Kind: fields[0][0],
		}
		if len(fields) > 2 {
			entry.Description = strings.Join(fields[2:], " ")
		}
		res[entry.Name] = entry
	}
	return res
}

// ParseHWAccels parses "ffmpeg -hide_banner -hwaccels".
func ParseHWAccels(out []byte) map[string]bool {
	res := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		res[line] = true
	}
	return res
}

// ParseProgressLine splits a "-progress" key=value line.
func ParseProgressLine(line string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(strings.TrimSpace(line), "=")
	if !ok || key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}
