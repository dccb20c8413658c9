// Package credentials owns the access/refresh token pair. The pair is
// written by login and refresh, cleared by logout or an irrecoverable
// refresh failure, and read by every outgoing request.
package credentials

import "sync"

type Credential struct {
	AccessToken  string
	RefreshToken string
}

type Store interface {
	// Credential returns the stored pair and whether one is present.
	Credential() (Credential, bool)
	Save(cred Credential) error
	Clear() error
}

// MemoryStore holds the pair for the lifetime of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	cred Credential
	set  bool
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Credential() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.set
}

func (s *MemoryStore) Save(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	s.set = cred.AccessToken != "" || cred.RefreshToken != ""
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{}
	s.set = false
	return nil
}
