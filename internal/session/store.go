package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/apperrors"
)

const (
	// RefreshThreshold is the remaining lifetime below which a session is re-validated.
	RefreshThreshold = 10 * time.Minute
	// RefreshExtension is how far a successful refresh pushes expiry out from now.
	RefreshExtension = time.Hour
)

// Profile is the signed-in user as reported by the provider.
type Profile struct {
	DisplayName   string `json:"displayName"`
	Mail          string `json:"mail"`
	PrincipalName string `json:"userPrincipalName"`
}

// Session is one browser session's authentication state.
type Session struct {
	ID          string
	AccessToken string
	ExpiresAt   time.Time
	Profile     Profile
}

// ProfileFetcher re-validates a token by reading the user's profile.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, accessToken string) (Profile, error)
}

// Store owns every live session. Values handed out are copies.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
	log      zerolog.Logger
}

// NewStore creates an empty store.
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
		log:      log.With().Str("component", "sessions").Logger(),
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Create stores a new session, replacing any with the same id.
func (s *Store) Create(id, accessToken string, expiresAt time.Time, profile Profile) Session {
	sess := &Session{ID: id, AccessToken: accessToken, ExpiresAt: expiresAt, Profile: profile}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.log.Info().Str("session", id).Time("expires_at", expiresAt).Msg("session created")
	return *sess
}

// Get returns the session if it exists and has not expired.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || !s.now().Before(sess.ExpiresAt) {
		return Session{}, false
	}
	return *sess, true
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len is the number of stored sessions, expired ones included until swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RefreshIfNearExpiry re-validates the session's token when less than
// RefreshThreshold remains. On success expiry moves to now+RefreshExtension and
// the profile is replaced. On failure an AuthError is returned and the caller is
// expected to delete the session.
func (s *Store) RefreshIfNearExpiry(ctx context.Context, id string, fetcher ProfileFetcher) (Session, error) {
	sess, ok := s.Get(id)
	if !ok {
		return Session{}, apperrors.Auth("refresh", apperrors.ErrSessionExpired)
	}

	s.mu.RLock()
	remaining := sess.ExpiresAt.Sub(s.now())
	s.mu.RUnlock()
	if remaining >= RefreshThreshold {
		return sess, nil
	}

	s.log.Debug().Str("session", id).Dur("remaining", remaining).Msg("session near expiry, refreshing")

	// The provider call happens without the lock held.
	profile, err := fetcher.FetchProfile(ctx, sess.AccessToken)
	if err != nil {
		s.log.Warn().Err(err).Str("session", id).Msg("session refresh failed")
		return Session{}, apperrors.Auth("refresh", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[id]
	if !ok {
		return Session{}, apperrors.Auth("refresh", apperrors.ErrNoSession)
	}
	current.ExpiresAt = s.now().Add(RefreshExtension)
	current.Profile = profile
	return *current, nil
}

// Sweep removes every session whose expiry is at or before now and returns how
// many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Int("remaining", len(s.sessions)).Msg("expired sessions swept")
	}
	return removed
}
