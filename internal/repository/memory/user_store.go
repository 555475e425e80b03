package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"havosec-api/internal/models"
	"havosec-api/internal/repository"
)

// UserStore is the in-memory account store used with STORE_BACKEND=memory.
type UserStore struct {
	mu      sync.RWMutex
	clients map[string]*models.ClientUser
	admins  map[string]*models.AdminUser
}

func NewUserStore() *UserStore {
	return &UserStore{
		clients: make(map[string]*models.ClientUser),
		admins:  make(map[string]*models.AdminUser),
	}
}

var _ repository.UserRepository = (*UserStore)(nil)

func (s *UserStore) CreateClientUser(_ context.Context, user *models.ClientUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.clients {
		if u.Email == user.Email {
			return fmt.Errorf("%w: client %s", repository.ErrAlreadyExists, user.Email)
		}
	}
	cp := *user
	s.clients[user.ID] = &cp
	return nil
}

func (s *UserStore) GetClientUserByEmail(_ context.Context, email string) (*models.ClientUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.clients {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: client %s", repository.ErrNotFound, email)
}

func (s *UserStore) GetClientUserByID(_ context.Context, id string) (*models.ClientUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: client %s", repository.ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

func (s *UserStore) TouchClientLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.clients[id]
	if !ok {
		return fmt.Errorf("%w: client %s", repository.ErrNotFound, id)
	}
	u.LastLogin = &at
	return nil
}

func (s *UserStore) CreateAdminUser(_ context.Context, user *models.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.admins {
		if u.Email == user.Email {
			return fmt.Errorf("%w: admin %s", repository.ErrAlreadyExists, user.Email)
		}
	}
	cp := *user
	s.admins[user.ID] = &cp
	return nil
}

func (s *UserStore) GetAdminUserByEmail(_ context.Context, email string) (*models.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.admins {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: admin %s", repository.ErrNotFound, email)
}

func (s *UserStore) GetAdminUserByID(_ context.Context, id string) (*models.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.admins[id]
	if !ok {
		return nil, fmt.Errorf("%w: admin %s", repository.ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

func (s *UserStore) TouchAdminLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.admins[id]
	if !ok {
		return fmt.Errorf("%w: admin %s", repository.ErrNotFound, id)
	}
	u.LastLogin = &at
	return nil
}
