//go:build windows

package mmap

import (
	"io"
	"os"
)

// Windows builds fall back to reading the file into memory. The rowset layer
// only depends on the immutable Bytes view, so semantics are unchanged.
func osMap(f *os.File, size int) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	return data, nil
}

func osUnmap(data []byte) error { return nil }
