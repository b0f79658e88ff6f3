// Package download correlates single-use URL tokens with in-memory resource handles.
//
// A token is minted lazily the first time a renderer asks for a resource's URL and is
// removed the moment it is resolved, so the store only holds downloads that are still
// pending. Tokens are random UUIDv4 strings and are never reused.
package download

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidResource is returned when Issue is given a nil resource or one without a handle.
var ErrInvalidResource = errors.New("download: resource has no handle")

type entry struct {
	token    string
	resource Resource
	issuedAt time.Time
}

// Store is the process-wide token table. It is safe for concurrent use.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	byToken  map[string]*entry
	byHandle map[string]*entry
}

// NewStore creates an empty store. Tokens older than ttl are treated as unknown;
// a ttl of zero keeps tokens until they are resolved.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:      ttl,
		now:      time.Now,
		byToken:  make(map[string]*entry),
		byHandle: make(map[string]*entry),
	}
}

// Issue returns the outstanding token for r, minting one if none exists.
func (s *Store) Issue(r Resource) (string, error) {
	if r == nil || r.Handle() == "" {
		return "", ErrInvalidResource
	}
	handle := r.Handle()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.byHandle[handle]; ok {
		if !s.expired(e, now) {
			return e.token, nil
		}
		s.removeLocked(e)
	}

	token, err := s.mintLocked()
	if err != nil {
		return "", err
	}
	e := &entry{token: token, resource: r, issuedAt: now}
	s.byToken[token] = e
	s.byHandle[handle] = e
	return token, nil
}

// Resolve consumes token. It reports false for unknown, consumed or expired tokens.
func (s *Store) Resolve(token string) (Resource, bool) {
	if token == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byToken[token]
	if !ok {
		return nil, false
	}
	s.removeLocked(e)
	if s.expired(e, s.now()) {
		return nil, false
	}
	return e.resource, true
}

// Len returns the number of outstanding tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byToken)
}

// Pending reports whether a live token is outstanding for the resource with handle.
func (s *Store) Pending(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byHandle[handle]
	return ok && !s.expired(e, s.now())
}

// Sweep drops tokens that outlived the TTL and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, e := range s.byToken {
		if s.expired(e, now) {
			s.removeLocked(e)
			removed++
		}
	}
	return removed
}

func (s *Store) expired(e *entry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.issuedAt) > s.ttl
}

func (s *Store) removeLocked(e *entry) {
	delete(s.byToken, e.token)
	if cur, ok := s.byHandle[e.resource.Handle()]; ok && cur == e {
		delete(s.byHandle, e.resource.Handle())
	}
}

func (s *Store) mintLocked() (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("mint download token: %w", err)
		}
		token := id.String()
		if _, taken := s.byToken[token]; !taken {
			return token, nil
		}
	}
	return "", errors.New("mint download token: repeated collision")
}
