package scpserver

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/xtaci/kcptun/std"
)

// ErrUserExists is returned by Hub.Connect when the requested name is
// already registered.
var ErrUserExists = errors.New("scpserver: username already registered")

// ErrServerFull is returned by Hub.Connect when the registry is already at
// MaxClients.
var ErrServerFull = errors.New("scpserver: registry is full")

// Hub owns the name registry and the chat-pairing side table shared by every
// session on the server. All registry and pairing mutation happens through a
// Hub passed explicitly to each session, rather than through ambient
// globals, so the server core stays testable in isolation from the
// transport.
//
// A single mutex covers both maps and is always acquired before touching
// either session's state, giving the joint AWAITING_PEER_FOR_INIT /
// AWAITING_CHAT_RESPONSE -> IN_CHAT/IN_CHAT transition the atomicity it
// needs with respect to concurrent CHAT_INIT_REQ targeting either
// participant.
type Hub struct {
	mu              sync.Mutex
	maxClients      int
	sessions        map[string]*Session
	pairs           map[string]string
	messagesRelayed uint64
}

// NewHub creates a Hub bounding the registry at maxClients concurrent
// sessions.
func NewHub(maxClients int) *Hub {
	return &Hub{
		maxClients: maxClients,
		sessions:   make(map[string]*Session),
		pairs:      make(map[string]string),
	}
}

// Connect registers a new session under name, the AUTHENTICATING ->
// CONNECT_REQ transition. It returns ErrUserExists or ErrServerFull when the
// preconditions in the state table fail; the caller is responsible for
// sending CONNECT_RESP and closing the transport on failure.
func (h *Hub) Connect(name string, sender Sender) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, taken := h.sessions[name]; taken {
		return nil, ErrUserExists
	}
	if len(h.sessions) >= h.maxClients {
		return nil, ErrServerFull
	}

	sess := &Session{Name: name, State: Idle, sender: sender}
	h.sessions[name] = sess
	return sess, nil
}

// Lookup finds a registered session by name.
func (h *Hub) Lookup(name string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[name]
	return sess, ok
}

// Unregister removes a session from the registry unconditionally. It is a
// no-op if the name is already absent, keeping cleanup idempotent.
func (h *Hub) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, name)
}

// Size reports the number of currently registered sessions.
func (h *Hub) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// pair records a and b as chat partners in both directions of the side
// table. Using a name-keyed side table instead of a pointer on Session
// avoids a reference cycle between paired sessions. Callers must hold h.mu.
func (h *Hub) pair(a, b string) {
	h.pairs[a] = b
	h.pairs[b] = a
}

// unpair removes name's pairing, if any, from both directions of the side
// table and returns the peer name that was paired with it. Callers must
// hold h.mu.
func (h *Hub) unpair(name string) (peer string, ok bool) {
	peer, ok = h.pairs[name]
	if !ok {
		return "", false
	}
	delete(h.pairs, name)
	delete(h.pairs, peer)
	return peer, true
}

// PairCount reports the number of active chat pairs.
func (h *Hub) PairCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pairs) / 2
}

// Stats implements std.Source for the periodic stats logger.
func (h *Hub) Stats() std.Counters {
	h.mu.Lock()
	defer h.mu.Unlock()
	return std.Counters{
		RegistrySize:    len(h.sessions),
		ActivePairs:     len(h.pairs) / 2,
		MessagesRelayed: h.messagesRelayed,
	}
}
