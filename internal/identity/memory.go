package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a map-backed Store for tests and local development. It
// mirrors PostgresStore semantics, including uniqueness and the
// last-credential guard.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	byID      map[int64]User
	byEmail   map[string]int64
	bySubject map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:    1,
		byID:      make(map[int64]User),
		byEmail:   make(map[string]int64),
		bySubject: make(map[string]int64),
	}
}

func subjectKey(provider Provider, subject string) string {
	return string(provider) + "\x00" + subject
}

func (s *MemoryStore) GetByID(_ context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.byID[id]
	return &u, nil
}

func (s *MemoryStore) GetByProviderSubject(_ context.Context, provider Provider, subject string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySubject[subjectKey(provider, subject)]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.byID[id]
	return &u, nil
}

func (s *MemoryStore) Create(_ context.Context, u *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := *u
	created.Email = NormalizeEmail(u.Email)
	if created.Role == "" {
		created.Role = RoleMember
	}

	if _, exists := s.byEmail[created.Email]; exists {
		return nil, ErrEmailTaken
	}
	if created.GoogleSub != "" {
		if _, exists := s.bySubject[subjectKey(ProviderGoogle, created.GoogleSub)]; exists {
			return nil, ErrSubjectTaken
		}
	}
	if created.MicrosoftSub != "" {
		if _, exists := s.bySubject[subjectKey(ProviderMicrosoft, created.MicrosoftSub)]; exists {
			return nil, ErrSubjectTaken
		}
	}

	now := time.Now().UTC()
	created.ID = s.nextID
	created.CreatedAt = now
	created.UpdatedAt = now
	s.nextID++

	s.byID[created.ID] = created
	s.byEmail[created.Email] = created.ID
	if created.GoogleSub != "" {
		s.bySubject[subjectKey(ProviderGoogle, created.GoogleSub)] = created.ID
	}
	if created.MicrosoftSub != "" {
		s.bySubject[subjectKey(ProviderMicrosoft, created.MicrosoftSub)] = created.ID
	}
	return &created, nil
}

func (s *MemoryStore) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	s.byID[id] = u
	return nil
}

func (s *MemoryStore) LinkProvider(_ context.Context, id int64, provider Provider, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if current := u.SubjectFor(provider); current != "" {
		if current == subject {
			return nil
		}
		return ErrAlreadyLinked
	}
	if owner, exists := s.bySubject[subjectKey(provider, subject)]; exists && owner != id {
		return ErrSubjectTaken
	}

	switch provider {
	case ProviderGoogle:
		u.GoogleSub = subject
	case ProviderMicrosoft:
		u.MicrosoftSub = subject
	}
	u.UpdatedAt = time.Now().UTC()
	s.byID[id] = u
	s.bySubject[subjectKey(provider, subject)] = id
	return nil
}

func (s *MemoryStore) UnlinkProvider(_ context.Context, id int64, provider Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	subject := u.SubjectFor(provider)
	if subject == "" {
		return ErrNotLinked
	}
	if u.CredentialCount() <= 1 {
		return ErrLastCredential
	}

	switch provider {
	case ProviderGoogle:
		u.GoogleSub = ""
	case ProviderMicrosoft:
		u.MicrosoftSub = ""
	}
	u.UpdatedAt = time.Now().UTC()
	s.byID[id] = u
	delete(s.bySubject, subjectKey(provider, subject))
	return nil
}
