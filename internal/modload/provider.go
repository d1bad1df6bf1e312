// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package modload fetches optional runtime modules from equivalent CDN
// providers, ordering attempts by a per-process provider health score.
package modload

import (
	"strings"
	"time"
)

// Well-known provider names. Their URL layout differs; any other name uses
// the plain "{base}/{pkg}@{ver}{subpath}" layout.
const (
	ProviderJSDelivr = "jsdelivr"
	ProviderUnpkg    = "unpkg"
	ProviderEsmSh    = "esm.sh"
)

// Provider is one remote module source.
type Provider struct {
	Name     string
	BaseURL  string
	Priority int
	Timeout  time.Duration
	Enabled  bool
	// Health is in [0, 100]; maintained by the Registry.
	Health int
}

// Module identifies an npm-published file.
type Module struct {
	Package string
	Version string
	// Subpath is the file inside the package, with a leading slash ("/ffmpeg").
	Subpath string
	// Integrity is an optional SRI string ("sha384-...").
	Integrity string
	// ESModule asks providers for their ES module rendition.
	ESModule bool
}

// Key identifies the module for deduplication and caching.
func (m Module) Key() string {
	k := m.Package + "@" + m.Version + m.Subpath
	if m.ESModule {
		k += "#esm"
	}
	return k
}

func (m Module) subpath() string {
	if m.Subpath == "" || strings.HasPrefix(m.Subpath, "/") {
		return m.Subpath
	}
	return "/" + m.Subpath
}

// URL renders the provider-specific location of m.
func (p Provider) URL(m Module) string {
	base := strings.TrimRight(p.BaseURL, "/")
	spec := m.Package + "@" + m.Version + m.subpath()
	switch p.Name {
	case ProviderJSDelivr:
		u := base + "/npm/" + spec
		if m.ESModule {
			u += "/+esm"
		}
		return u
	case ProviderUnpkg:
		u := base + "/" + spec
		if m.ESModule {
			u += "?module"
		}
		return u
	default:
		return base + "/" + spec
	}
}
