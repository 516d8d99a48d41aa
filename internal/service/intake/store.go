package intake

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	model "github.com/ucsal/oraculo-anonimo/internal/model/intake"
)

// sessionStore keeps at most one live session per conversation and expires idle ones.
type sessionStore struct {
	cache *cache.Cache

	mu    sync.Mutex
	locks map[string]*conversationLock
}

type conversationLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionStore(ttl time.Duration) *sessionStore {
	cleanup := ttl
	if cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}
	return &sessionStore{
		cache: cache.New(ttl, cleanup),
		locks: make(map[string]*conversationLock),
	}
}

func (s *sessionStore) get(conversationID string) (model.Session, bool) {
	if x, found := s.cache.Get(conversationID); found {
		return x.(model.Session), true
	}
	return model.Session{}, false
}

// save stores the session and restarts its idle timer.
func (s *sessionStore) save(session model.Session) {
	s.cache.Set(session.ConversationID, session, cache.DefaultExpiration)
}

func (s *sessionStore) delete(conversationID string) {
	s.cache.Delete(conversationID)
}

// lock serializes turns of one conversation; the returned func releases it.
func (s *sessionStore) lock(conversationID string) func() {
	s.mu.Lock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &conversationLock{}
		s.locks[conversationID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, conversationID)
		}
		s.mu.Unlock()
	}
}
