// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-superkey.
//
// go-superkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rand

import (
	"fmt"
	"io"
	"sync"
)

// ReaderSource adapts an io.Reader RNG, such as the crypto11 random
// reader, to Source.
type ReaderSource struct {
	mu     sync.Mutex
	name   string
	reader io.Reader
}

// NewReaderSource wraps r. The reader is not closed by Close.
func NewReaderSource(name string, r io.Reader) *ReaderSource {
	return &ReaderSource{name: name, reader: r}
}

func (s *ReaderSource) Name() string { return s.name }

func (s *ReaderSource) Rand(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		return nil, ErrClosed
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	return buf, nil
}

func (s *ReaderSource) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader != nil
}

func (s *ReaderSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reader = nil
	return nil
}

// ChunkFunc returns up to n random bytes from a device.
type ChunkFunc func(n int) ([]byte, error)

// ChunkedSource splits large requests into device sized calls. TPM2
// GetRandom is limited to the digest size of the TPM's largest hash,
// so requests are issued MaxRequestSize bytes at a time.
type ChunkedSource struct {
	mu             sync.Mutex
	name           string
	maxRequestSize int
	fn             ChunkFunc
}

// NewChunkedSource wraps fn. maxRequestSize <= 0 defaults to 32.
func NewChunkedSource(name string, maxRequestSize int, fn ChunkFunc) *ChunkedSource {
	if maxRequestSize <= 0 {
		maxRequestSize = 32
	}
	return &ChunkedSource{name: name, maxRequestSize: maxRequestSize, fn: fn}
}

func (s *ChunkedSource) Name() string { return s.name }

func (s *ChunkedSource) Rand(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fn == nil {
		return nil, ErrClosed
	}
	result := make([]byte, 0, n)
	for remaining := n; remaining > 0; {
		chunk := remaining
		if chunk > s.maxRequestSize {
			chunk = s.maxRequestSize
		}
		b, err := s.fn(chunk)
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("%w: %s returned no bytes", ErrShortRead, s.name)
		}
		if len(b) > remaining {
			b = b[:remaining]
		}
		result = append(result, b...)
		remaining -= len(b)
	}
	return result, nil
}

func (s *ChunkedSource) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fn != nil
}

func (s *ChunkedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = nil
	return nil
}

var (
	_ Source = (*ReaderSource)(nil)
	_ Source = (*ChunkedSource)(nil)
)
