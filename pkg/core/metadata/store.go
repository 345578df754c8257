// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnknownHandle is returned by Store methods given a handle that was never acquired or was already released.
var ErrUnknownHandle = errors.New("unknown scope handle")

// Handle is an opaque reference to a scope owned by a Store.
type Handle uuid.UUID

// String implements fmt.Stringer.
func (h Handle) String() string { return uuid.UUID(h).String() }

// Store owns scopes referenced by handles, for callers that can't hold Go pointers (or shouldn't).
//
// A scope is created lazily on the first Get of a handle, and dropped (and its backend finalized) by Release.
// It is safe for concurrent use.
type Store struct {
	mu            sync.Mutex
	dims          int
	backendConfig string
	scopes        map[Handle]*Metadata
}

// NewStore creates a Store whose scopes have dims spatial dimensions and create their backends with
// backendConfig (see Metadata.WithBackendConfig; empty for the default).
func NewStore(dims int, backendConfig string) *Store {
	return &Store{
		dims:          dims,
		backendConfig: backendConfig,
		scopes:        make(map[Handle]*Metadata),
	}
}

// Acquire returns a new handle. The scope itself is only created on the first Get.
func (s *Store) Acquire() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := Handle(uuid.New())
	s.scopes[h] = nil
	return h
}

// Get returns the scope referenced by the handle, creating it if this is the first access.
func (s *Store) Get(h Handle) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope, found := s.scopes[h]
	if !found {
		return nil, errors.Wrapf(ErrUnknownHandle, "handle %s", h)
	}
	if scope != nil {
		return scope, nil
	}
	scope, err := New(s.dims)
	if err != nil {
		return nil, err
	}
	if s.backendConfig != "" {
		scope.WithBackendConfig(s.backendConfig)
	}
	klog.V(1).Infof("created scope for handle %s", h)
	s.scopes[h] = scope
	return scope, nil
}

// Release drops the scope referenced by the handle, releasing it if it was created.
// Releasing a handle twice returns ErrUnknownHandle.
func (s *Store) Release(h Handle) error {
	s.mu.Lock()
	scope, found := s.scopes[h]
	delete(s.scopes, h)
	s.mu.Unlock()
	if !found {
		return errors.Wrapf(ErrUnknownHandle, "handle %s", h)
	}
	if scope != nil {
		scope.Release()
	}
	return nil
}

// Len returns the number of live handles.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scopes)
}

// ReleaseAll releases every handle of the store.
func (s *Store) ReleaseAll() {
	s.mu.Lock()
	scopes := s.scopes
	s.scopes = make(map[Handle]*Metadata)
	s.mu.Unlock()
	for _, scope := range scopes {
		if scope != nil {
			scope.Release()
		}
	}
}
