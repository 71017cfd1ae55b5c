package datasource

import (
	"errors"
	"fmt"
	"io"
)

var ErrEmptySource = errors.New("source is empty")

// CyclicReader rewinds rs on EOF so a finite recording plays forever.
type CyclicReader struct {
	rs    io.ReadSeeker
	loops int
	// bytes read since the last rewind
	read int64
}

func NewCyclicReader(rs io.ReadSeeker) *CyclicReader {
	return &CyclicReader{rs: rs}
}

// Loops is the number of times the source was rewound.
func (r *CyclicReader) Loops() int { return r.loops }

func (r *CyclicReader) Read(b []byte) (int, error) {
	n, err := r.rs.Read(b)
	r.read += int64(n)
	if err == nil {
		return n, nil
	}

	if err != io.EOF {
		return n, fmt.Errorf("read: %w", err)
	}
	if r.read == 0 {
		return n, ErrEmptySource
	}

	_, err = r.rs.Seek(0, io.SeekStart)
	if err != nil {
		return n, fmt.Errorf("rewind: %w", err)
	}
	r.loops++
	r.read = 0

	return n, nil
}
