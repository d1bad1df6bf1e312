// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// sampleRef locates one sample inside the file.
type sampleRef struct {
	offset int64
	size   int
	ptsUS  int64
	dtsUS  int64
	durUS  int64
	key    bool
}

// sampleSource yields sample locations in decode order and io.EOF at the end.
type sampleSource interface {
	next(ctx context.Context) (sampleRef, error)
}

// SampleIterator yields encoded chunks lazily. Each payload is read from the
// file when its chunk is requested; nothing is buffered ahead.
type SampleIterator struct {
	src      sampleSource
	r        *reader
	budgetUS int64
	firstDTS int64
	started  bool
	done     bool
	yielded  int
}

func newSampleIterator(src sampleSource, r *reader, budgetUS int64) *SampleIterator {
	return &SampleIterator{src: src, r: r, budgetUS: budgetUS}
}

// Next returns the next chunk in decode order, or io.EOF once the track or
// the extraction time budget is exhausted. ctx is checked before every chunk.
func (it *SampleIterator) Next(ctx context.Context) (Chunk, error) {
	if it.done {
		return Chunk{}, io.EOF
	}
	if ctx.Err() != nil {
		return Chunk{}, context.Cause(ctx)
	}
	ref, err := it.src.next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			it.done = true
		}
		return Chunk{}, err
	}
	if !it.started {
		it.firstDTS = ref.dtsUS
		it.started = true
	}
	if it.budgetUS > 0 && ref.dtsUS-it.firstDTS > it.budgetUS {
		it.done = true
		return Chunk{}, io.EOF
	}

	data, err := it.r.readAt(ref.offset, ref.size)
	if err != nil {
		return Chunk{}, fmt.Errorf("read sample %d: %w", it.yielded, err)
	}
	it.yielded++
	kind := KindDelta
	if ref.key {
		kind = KindKey
	}
	return Chunk{
		Kind:              kind,
		TimestampUS:       ref.ptsUS,
		DecodeTimestampUS: ref.dtsUS,
		DurationUS:        ref.durUS,
		Data:              data,
	}, nil
}

// Yielded is the number of chunks returned so far.
func (it *SampleIterator) Yielded() int { return it.yielded }
