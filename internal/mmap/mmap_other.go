//go:build !unix

package mmap

import (
	"fmt"
	"io"
	"os"
)

// Map falls back to reading the whole file on platforms without a usable
// mmap. The slice is heap memory, so Unmap and the madvise hints are no-ops.
func Map(f *os.File, size int64) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: non-positive size %d for %s", size, f.Name())
	}
	mem := make([]byte, size)
	if _, err := f.ReadAt(mem, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %s: %w", f.Name(), err)
	}
	return mem, nil
}

func Unmap(mem []byte) error { return nil }

func MadviseSequential(mem []byte) error { return nil }

func MadviseRandom(mem []byte) error { return nil }

func MadviseWillNeed(mem []byte) error { return nil }
