// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package convert

import (
	"context"
	"sync"

	"github.com/ManuGH/clipanim/internal/modload"
)

// ModuleBinary resolves an executable published as a module by loading it
// through the multi-source loader and writing it to disk. A successful path
// is reused for the life of the process.
type ModuleBinary struct {
	Loader *modload.Loader
	Module modload.Module
	Dir    string

	mu   sync.Mutex
	path string
}

// ResolveBinary returns the path of the materialised executable.
func (b *ModuleBinary) ResolveBinary(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.path != "" {
		return b.path, nil
	}
	p, err := b.Loader.Materialize(ctx, b.Module, b.Dir, 0o755)
	if err != nil {
		return "", err
	}
	b.path = p
	return p, nil
}
