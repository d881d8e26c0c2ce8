/******************************************************************************
 *
 *  Description :
 *
 *  Registry of live sessions and the friendship relation between them.
 *  All state is process-lifetime only; nothing survives a restart.
 *
 *****************************************************************************/

package main

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/veilchat/relay/server/logs"
)

// SessionStore holds live sessions indexed by session id, and the
// friendship sets of those sessions. Both maps are guarded by a single
// mutex: every connection's goroutines mutate them concurrently.
type SessionStore struct {
	lock sync.Mutex

	// All sessions indexed by session ID.
	sessCache map[string]*Session

	// Friend sets indexed by the owning session's ID. An edge (a, b) is
	// stored twice, once under each endpoint. Removing a session discards
	// its own set only; the mirrored membership in the peer's set remains
	// until the peer disconnects. The leftover is harmless because routing
	// always checks sessCache for liveness before forwarding.
	friends map[string]map[string]struct{}
}

// genSessionID produces a 6-character uppercase token from a cryptographically
// strong source. The id doubles as an unguessable addressing capability.
func genSessionID() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		panic("genSessionID: failed to read random bytes: " + err.Error())
	}
	return strings.ToUpper(hex.EncodeToString(buf))
}

// NewSession creates a session with a unique id, registers it and initializes
// its empty friend set. Returns the session and the number of live sessions.
func (ss *SessionStore) NewSession(conn *websocket.Conn) (*Session, int) {
	var s Session
	s.ws = conn
	s.send = make(chan any, sendQueueLimit+32) // buffered
	s.stop = make(chan any, 1)                 // buffered by 1 just to make it non-blocking

	ss.lock.Lock()

	// Uniqueness of the id is atomic with registration: no concurrent call
	// can be assigned the same id. Collisions are rare at the expected
	// scale, so the retry loop is unbounded.
	for {
		s.uid = genSessionID()
		if _, found := ss.sessCache[s.uid]; !found {
			break
		}
	}

	ss.sessCache[s.uid] = &s
	ss.friends[s.uid] = make(map[string]struct{})
	count := len(ss.sessCache)

	ss.lock.Unlock()

	return &s, count
}

// Get fetches a session from the store by session ID. Returns nil when the
// session is not registered.
func (ss *SessionStore) Get(uid string) *Session {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	return ss.sessCache[uid]
}

// Delete removes the session and its friend set from the store. Idempotent.
// Returns the number of remaining live sessions.
func (ss *SessionStore) Delete(s *Session) int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	delete(ss.sessCache, s.uid)
	delete(ss.friends, s.uid)
	return len(ss.sessCache)
}

// AreFriends checks if b is a member of a's friend set.
func (ss *SessionStore) AreFriends(a, b string) bool {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	_, ok := ss.friends[a][b]
	return ok
}

// Befriend creates the symmetric friendship edge (a, b) if both sessions are
// still registered. Returns b's session so the caller can forward the accept
// confirmation, or nil if either side is gone (no edge is created).
func (ss *SessionStore) Befriend(a, b string) *Session {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	peer := ss.sessCache[b]
	if peer == nil || ss.sessCache[a] == nil {
		return nil
	}

	ss.friends[a][b] = struct{}{}
	ss.friends[b][a] = struct{}{}
	return peer
}

// Shutdown terminates all live sessions. No state to clean up: the registry
// dies with the process.
func (ss *SessionStore) Shutdown() {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	for _, s := range ss.sessCache {
		if s.stop != nil {
			s.stop <- nil
		}
	}

	logs.Info.Printf("SessionStore shut down, sessions terminated: %d", len(ss.sessCache))
}

// NewSessionStore initializes a session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessCache: make(map[string]*Session),
		friends:   make(map[string]map[string]struct{}),
	}
}
