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

// Package prefs is a small named-record configuration store. Each record is
// one storage key below "prefs/<namespace>/". String records are stored as
// raw bytes and int records as decimal text.
package prefs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-superkey/pkg/storage"
)

var (
	// ErrInvalidName is returned for an empty or slash containing record name.
	ErrInvalidName = errors.New("prefs: invalid record name")

	// ErrNotInt is returned when an int record holds non numeric text.
	ErrNotInt = errors.New("prefs: record is not an integer")
)

// Store reads and writes named configuration records. A missing record
// yields the supplied default, never an error.
type Store interface {
	GetString(name, def string) (string, error)
	PutString(name, value string) error
	GetInt(name string, def int) (int, error)
	PutInt(name string, value int) error
	Remove(name string) error
}

// BackendStore implements Store over a storage.Backend.
type BackendStore struct {
	backend   storage.Backend
	namespace string
}

// New returns a Store whose records live below prefs/<namespace>/.
// An empty namespace places records directly under prefs/.
func New(backend storage.Backend, namespace string) (*BackendStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("prefs: storage backend is required")
	}
	return &BackendStore{
		backend:   backend,
		namespace: strings.Trim(namespace, "/"),
	}, nil
}

// Namespace returns the record namespace.
func (s *BackendStore) Namespace() string {
	return s.namespace
}

func (s *BackendStore) key(name string) (string, error) {
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return storage.PrefPath(s.namespace, name), nil
}

func (s *BackendStore) get(name string) ([]byte, bool, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, false, err
	}
	data, err := s.backend.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("prefs: read %s: %w", name, err)
	}
	return data, true, nil
}

func (s *BackendStore) put(name string, value []byte) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	if err := s.backend.Put(key, value, storage.DefaultOptions()); err != nil {
		return fmt.Errorf("prefs: write %s: %w", name, err)
	}
	return nil
}

// GetString returns the string record or def when absent.
func (s *BackendStore) GetString(name, def string) (string, error) {
	data, ok, err := s.get(name)
	if err != nil || !ok {
		return def, err
	}
	return string(data), nil
}

// PutString stores a string record.
func (s *BackendStore) PutString(name, value string) error {
	return s.put(name, []byte(value))
}

// GetInt returns the int record or def when absent.
func (s *BackendStore) GetInt(name string, def int) (int, error) {
	data, ok, err := s.get(name)
	if err != nil || !ok {
		return def, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return def, fmt.Errorf("%w: %s", ErrNotInt, name)
	}
	return v, nil
}

// PutInt stores an int record as decimal text.
func (s *BackendStore) PutInt(name string, value int) error {
	return s.put(name, []byte(strconv.Itoa(value)))
}

// Remove deletes the record. Removing an absent record is not an error.
func (s *BackendStore) Remove(name string) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	if err := storage.DeleteIfExists(s.backend, key); err != nil {
		return fmt.Errorf("prefs: remove %s: %w", name, err)
	}
	return nil
}

// Names lists the record names present in the namespace.
func (s *BackendStore) Names() ([]string, error) {
	prefix := storage.PrefPath(s.namespace, "")
	keys, err := s.backend.List(prefix)
	if err != nil {
		return nil, fmt.Errorf("prefs: list: %w", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		if name != "" && !strings.Contains(name, "/") {
			names = append(names, name)
		}
	}
	return names, nil
}

var _ Store = (*BackendStore)(nil)
