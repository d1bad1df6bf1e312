// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package modload

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// ErrIntegrity marks a payload whose digest does not match its SRI metadata.
var ErrIntegrity = errors.New("integrity mismatch")

type sriAlgo struct {
	name     string
	strength int
	newHash  func() hash.Hash
}

var sriAlgos = map[string]sriAlgo{
	"sha256": {"sha256", 1, sha256.New},
	"sha384": {"sha384", 2, sha512.New384},
	"sha512": {"sha512", 3, sha512.New},
}

// VerifyIntegrity checks data against a Subresource Integrity string. Only
// the strongest algorithm present is considered; any of its digests may
// match. Options after "?" are ignored. An empty string verifies nothing.
func VerifyIntegrity(data []byte, integrity string) error {
	integrity = strings.TrimSpace(integrity)
	if integrity == "" {
		return nil
	}

	var best *sriAlgo
	digests := map[string][][]byte{}
	for _, token := range strings.Fields(integrity) {
		algoName, value, ok := strings.Cut(token, "-")
		if !ok {
			continue
		}
		algo, known := sriAlgos[strings.ToLower(algoName)]
		if !known {
			continue
		}
		value, _, _ = strings.Cut(value, "?")
		want, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return fmt.Errorf("%w: malformed %s digest", ErrIntegrity, algo.name)
		}
		digests[algo.name] = append(digests[algo.name], want)
		if best == nil || algo.strength > best.strength {
			a := algo
			best = &a
		}
	}
	if best == nil {
		return fmt.Errorf("%w: no supported algorithm in %q", ErrIntegrity, integrity)
	}

	h := best.newHash()
	h.Write(data)
	got := h.Sum(nil)
	for _, want := range digests[best.name] {
		if subtle.ConstantTimeCompare(got, want) == 1 {
			return nil
		}
	}
	return fmt.Errorf("%w: %s digest %s", ErrIntegrity, best.name, base64.StdEncoding.EncodeToString(got))
}

// Integrity returns the SRI string of data for algo ("sha256", "sha384" or "sha512").
func Integrity(data []byte, algo string) (string, error) {
	a, ok := sriAlgos[algo]
	if !ok {
		return "", fmt.Errorf("unsupported integrity algorithm %q", algo)
	}
	h := a.newHash()
	h.Write(data)
	return a.name + "-" + base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
