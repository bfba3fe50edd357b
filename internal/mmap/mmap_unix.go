//go:build unix

package mmap

import (
	"fmt"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// Map maps the file read-only. The returned slice stays valid until Unmap.
func Map(f *os.File, size int64) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: non-positive size %d for %s", size, f.Name())
	}
	if size > math.MaxInt {
		return nil, fmt.Errorf("mmap: file size %d exceeds max integer", size)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return mem, nil
}

func Unmap(mem []byte) error {
	if mem == nil {
		return nil
	}
	return unix.Munmap(mem)
}

// MadviseSequential hints that the mapping will be read front to back.
func MadviseSequential(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Madvise(mem, unix.MADV_SEQUENTIAL)
}

// MadviseRandom hints that accesses will be in no particular order.
func MadviseRandom(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Madvise(mem, unix.MADV_RANDOM)
}

// MadviseWillNeed asks the kernel to fault the whole mapping in soon.
func MadviseWillNeed(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Madvise(mem, unix.MADV_WILLNEED)
}
