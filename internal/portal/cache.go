package portal

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/leaseops/leaseverify/internal/config"
	"github.com/leaseops/leaseverify/internal/resilience"
)

// Session is one authenticated portal connection. Fetches against a
// session must hold its mutex; connections are not concurrency safe.
type Session struct {
	Identity string
	Conn     Conn

	mu sync.Mutex
}

// Lock serializes use of the underlying connection.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the connection for the next fetch.
func (s *Session) Unlock() { s.mu.Unlock() }

// SessionCache hands out one live session per system identity, logging
// in on first use. A cache hit is returned without any liveness probe;
// callers that find a session stale evict it and acquire again.
type SessionCache struct {
	driver  Driver
	systems map[string]config.SystemConfig

	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

// NewSessionCache creates a cache over the configured portal systems.
func NewSessionCache(driver Driver, systems map[string]config.SystemConfig) *SessionCache {
	return &SessionCache{
		driver:   driver,
		systems:  systems,
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Acquire returns the cached session for identity, logging in first if
// none exists. Login failures are reported as authentication failures.
// Per-identity locking ensures concurrent callers trigger at most one
// login; other identities are not blocked.
func (c *SessionCache) Acquire(ctx context.Context, identity string) (*Session, error) {
	sys, ok := c.systems[identity]
	if !ok {
		return nil, &resilience.AuthenticationFailure{
			Identity: identity,
			Err:      errUnknownSystem(identity),
		}
	}

	lock := c.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	sess, ok := c.sessions[identity]
	c.mu.Unlock()
	if ok {
		return sess, nil
	}

	conn, err := c.driver.Open(ctx, identity, sys)
	if err != nil {
		// Open releases its own partial state on failure.
		if resilience.IsAuthFailure(err) {
			return nil, err
		}
		return nil, &resilience.AuthenticationFailure{Identity: identity, Err: err}
	}

	sess = &Session{Identity: identity, Conn: conn}
	c.mu.Lock()
	c.sessions[identity] = sess
	c.mu.Unlock()
	return sess, nil
}

// Evict drops the cached session for identity, closing it best effort.
// The next Acquire performs a fresh login.
func (c *SessionCache) Evict(identity string) {
	c.mu.Lock()
	sess, ok := c.sessions[identity]
	delete(c.sessions, identity)
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := sess.Conn.Close(); err != nil {
		zap.L().Warn("closing evicted session",
			zap.String("system", identity),
			zap.Error(err),
		)
	}
}

// Close shuts down every cached session.
func (c *SessionCache) Close() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()

	for identity, sess := range sessions {
		if err := sess.Conn.Close(); err != nil {
			zap.L().Warn("closing session",
				zap.String("system", identity),
				zap.Error(err),
			)
		}
	}
}

func (c *SessionCache) identityLock(identity string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[identity]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[identity] = lock
	}
	return lock
}

type errUnknownSystem string

func (e errUnknownSystem) Error() string {
	return "no portal system configured for " + string(e)
}
