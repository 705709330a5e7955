// Package planner computes the deterministic part layout for a
// multipart transfer.
package planner

import (
	"github.com/datalift/partstream/internal/xferr"
)

const (
	// MinPartSize is the object store's floor for non-final parts (5 MiB).
	MinPartSize int64 = 5 * 1024 * 1024

	// MaxParts is the protocol cap on part count per upload.
	MaxParts = 10000
)

// Part is one entry of a part plan: a 1-based part number and the byte
// range it covers in the source file.
type Part struct {
	Number int
	Offset int64
	Length int64
}

// Plan splits fileSize into parts of partSize, the last part taking the
// remainder. Identical inputs always produce identical plans, so a
// resumed transfer recomputes the same numbering as the original
// attempt.
func Plan(fileSize, partSize int64) ([]Part, error) {
	if fileSize <= 0 {
		return nil, xferr.New(xferr.KindInvalidInput, "cannot plan empty file")
	}
	if partSize < MinPartSize {
		return nil, xferr.New(xferr.KindInvalidInput,
			"part size %d below minimum %d", partSize, MinPartSize)
	}
	n := Count(fileSize, partSize)
	if n > MaxParts {
		return nil, xferr.New(xferr.KindInvalidInput,
			"file of %d bytes needs %d parts, exceeding the %d part limit", fileSize, n, MaxParts)
	}

	parts := make([]Part, 0, n)
	for i := 0; i < n; i++ {
		off := int64(i) * partSize
		length := partSize
		if rem := fileSize - off; rem < length {
			length = rem
		}
		parts = append(parts, Part{Number: i + 1, Offset: off, Length: length})
	}
	return parts, nil
}

// Count returns the number of parts a plan for the given sizes holds.
func Count(fileSize, partSize int64) int {
	n := fileSize / partSize
	if fileSize%partSize != 0 {
		n++
	}
	return int(n)
}
