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

package testutil

import (
	"sync"

	"github.com/jeremyhahn/go-superkey/pkg/storage"
)

// Backend wraps a storage.MemoryBackend and injects errors per operation.
type Backend struct {
	*storage.MemoryBackend

	mu         sync.Mutex
	failGet    error
	failPut    error
	failDelete error
}

// NewBackend returns an empty in-memory Backend.
func NewBackend() *Backend {
	return &Backend{MemoryBackend: storage.NewMemory()}
}

// FailGet makes every Get return err. A nil err clears the fault.
func (b *Backend) FailGet(err error) {
	b.mu.Lock()
	b.failGet = err
	b.mu.Unlock()
}

// FailPut makes every Put return err.
func (b *Backend) FailPut(err error) {
	b.mu.Lock()
	b.failPut = err
	b.mu.Unlock()
}

// FailDelete makes every Delete return err.
func (b *Backend) FailDelete(err error) {
	b.mu.Lock()
	b.failDelete = err
	b.mu.Unlock()
}

func (b *Backend) Get(key string) ([]byte, error) {
	b.mu.Lock()
	err := b.failGet
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return b.MemoryBackend.Get(key)
}

func (b *Backend) Put(key string, value []byte, opts *storage.Options) error {
	b.mu.Lock()
	err := b.failPut
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.MemoryBackend.Put(key, value, opts)
}

func (b *Backend) Delete(key string) error {
	b.mu.Lock()
	err := b.failDelete
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.MemoryBackend.Delete(key)
}

var _ storage.Backend = (*Backend)(nil)
