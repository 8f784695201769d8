// Package batch splits an ordered identifier list into the run slice owned by
// one invocation and then into API-sized batches.
package batch

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Window is the 1-based, half-open line range [Skip+1, Skip+Size] selected by
// a run number and run size.
type Window struct {
	Skip int
	Size int
}

// RunWindow computes the line window for runNumber (1-based) of runSize lines.
//
// Errors:
//   - runNumber and runSize must both be > 0.
//   - The window must end at a line number that fits in an int.
func RunWindow(runNumber, runSize int) (Window, error) {
	if runNumber <= 0 {
		return Window{}, fmt.Errorf("batch: run number must be > 0, got %d", runNumber)
	}
	if runSize <= 0 {
		return Window{}, fmt.Errorf("batch: run size must be > 0, got %d", runSize)
	}
	if runNumber-1 > (math.MaxInt-runSize)/runSize {
		return Window{}, fmt.Errorf("batch: run %d of size %d is past the largest line number", runNumber, runSize)
	}
	return Window{Skip: (runNumber - 1) * runSize, Size: runSize}, nil
}

// Contains reports whether the 1-based line number falls inside the window.
func (w Window) Contains(line int) bool {
	return w.Skip < line && line <= w.Skip+w.Size
}

// last is the highest line number inside the window.
func (w Window) last() int { return w.Skip + w.Size }

// Partition is the in-memory form of ReadRunSlice followed by Chunk: it
// selects the run slice of ids, drops blank entries, and splits the rest into
// batches of at most apiBatchSize identifiers, preserving the original order.
//
// Empty trailing batches are never produced: an empty run slice yields no
// batches and a slice whose length is an exact multiple of apiBatchSize ends
// with a full batch.
func Partition(ids []string, runNumber, runSize, apiBatchSize int) ([][]string, error) {
	w, err := RunWindow(runNumber, runSize)
	if err != nil {
		return nil, err
	}
	if apiBatchSize <= 0 {
		return nil, fmt.Errorf("batch: api batch size must be > 0, got %d", apiBatchSize)
	}

	var slice []string
	for i, raw := range ids {
		if i+1 > w.last() {
			break
		}
		if !w.Contains(i + 1) {
			continue
		}
		if id, ok := identifier(raw); ok {
			slice = append(slice, id)
		}
	}
	return Chunk(slice, apiBatchSize)
}

// identifier trims one input line; blank lines carry no identifier.
func identifier(line string) (string, bool) {
	id := strings.TrimSpace(line)
	return id, id != ""
}

// Chunk splits ids into consecutive groups of at most size elements.
// It returns nil for empty input.
func Chunk(ids []string, size int) ([][]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch: api batch size must be > 0, got %d", size)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end:end])
	}
	return out, nil
}

// ReadRunSlice reads the identifiers of one run from r without holding the
// rest of the file in memory.
//
// Behavior:
//   - Lines are numbered from 1; every physical line counts, including blank
//     ones, so run windows stay aligned with file line numbers.
//   - Identifiers are trimmed; blank lines inside the window are skipped.
//   - A UTF-8 or UTF-16 byte order mark is honored and stripped.
//   - Reading stops at the last line of the window.
func ReadRunSlice(r io.Reader, runNumber, runSize int) ([]string, error) {
	w, err := RunWindow(runNumber, runSize)
	if err != nil {
		return nil, err
	}

	dec := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	ids := make([]string, 0, min(w.Size, 4096))
	line := 0
	for sc.Scan() {
		line++
		if line > w.last() {
			break
		}
		if !w.Contains(line) {
			continue
		}
		if id, ok := identifier(sc.Text()); ok {
			ids = append(ids, id)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("batch: read identifiers at line %d: %w", line+1, err)
	}
	return ids, nil
}
