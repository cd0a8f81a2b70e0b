package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/franciscosanchezn/gin-oauth2-server/internal/models"
)

// MemoryStore is an in-process Store guarded by a single mutex.
// Records are copied on the way in and out so callers cannot mutate stored state.
type MemoryStore struct {
	mu           sync.Mutex
	applications map[string]models.Application
	grants       map[string]models.Grant
	tokens       map[string]models.Token // keyed by refresh token
	accessIndex  map[string]struct{}
	nextTokenID  uint
	now          func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		applications: make(map[string]models.Application),
		grants:       make(map[string]models.Grant),
		tokens:       make(map[string]models.Token),
		accessIndex:  make(map[string]struct{}),
		now:          time.Now,
	}
}

func (s *MemoryStore) CreateApplication(ctx context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.applications[app.ClientID]; exists {
		return fmt.Errorf("application %q already exists", app.ClientID)
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = s.now()
	}
	app.UpdatedAt = app.CreatedAt
	s.applications[app.ClientID] = *app
	return nil
}

func (s *MemoryStore) FindByClientID(ctx context.Context, clientID string) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.applications[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	return &app, nil
}

func (s *MemoryStore) CreateGrant(ctx context.Context, grant *models.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.grants[grant.Code]; exists {
		return fmt.Errorf("grant code collision")
	}
	s.grants[grant.Code] = *grant
	return nil
}

func (s *MemoryStore) ConsumeIfUnused(ctx context.Context, code string) (*models.Grant, error) {
	s.mu.Lock() // check and mark under the same lock
	defer s.mu.Unlock()

	grant, ok := s.grants[code]
	if !ok || grant.Consumed {
		return nil, ErrNotFound
	}

	consumedAt := s.now()
	grant.Consumed = true
	grant.ConsumedAt = &consumedAt
	s.grants[code] = grant
	return &grant, nil
}

func (s *MemoryStore) CreateToken(ctx context.Context, token *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertToken(token)
}

// insertToken stores token; the caller holds s.mu
func (s *MemoryStore) insertToken(token *models.Token) error {
	if _, exists := s.tokens[token.RefreshToken]; exists {
		return fmt.Errorf("refresh token collision")
	}
	if _, exists := s.accessIndex[token.AccessToken]; exists {
		return fmt.Errorf("access token collision")
	}
	s.nextTokenID++
	token.ID = s.nextTokenID
	s.tokens[token.RefreshToken] = *token
	s.accessIndex[token.AccessToken] = struct{}{}
	return nil
}

func (s *MemoryStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[refreshToken]
	if !ok || token.Superseded {
		return nil, ErrNotFound
	}
	return &token, nil
}

func (s *MemoryStore) Rotate(ctx context.Context, refreshToken string, next *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.tokens[refreshToken]
	if !ok || previous.Superseded {
		return ErrNotFound
	}
	if err := s.insertToken(next); err != nil {
		return err
	}
	supersededAt := s.now()
	previous.Superseded = true
	previous.SupersededAt = &supersededAt
	s.tokens[refreshToken] = previous
	return nil
}
