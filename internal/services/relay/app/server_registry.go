package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/louisbranch/relay.chat/internal/services/relay/protocol"
)

// connState tracks a connection's handshake progress. Closed is terminal
// and reachable from every other state.
type connState int

const (
	stateAwaitingHello connState = iota
	stateRegistered
	stateClosed
)

// wsPeer serializes outbound frames so one connection's events are never
// interleaved on the wire.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame protocol.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// wsSession is one connection's handshake state machine. The read loop and
// the hello timer both transition it, so every state access holds mu.
type wsSession struct {
	id   string
	peer *wsPeer

	mu         sync.Mutex
	state      connState
	name       string
	helloTimer *time.Timer
}

func newWSSession(id string, peer *wsPeer) *wsSession {
	return &wsSession{id: id, peer: peer, state: stateAwaitingHello}
}

func (s *wsSession) startHelloTimer(d time.Duration, expired func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.helloTimer = time.AfterFunc(d, expired)
}

func (s *wsSession) stopHelloTimerLocked() {
	if s.helloTimer != nil {
		s.helloTimer.Stop()
	}
}

func (s *wsSession) awaitingHello() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateAwaitingHello
}

func (s *wsSession) registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRegistered
}

// expire moves a still-unregistered session to closed and reports whether
// the caller now owns the teardown. A session that registered before the
// timer fired is left untouched.
func (s *wsSession) expire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateAwaitingHello {
		return false
	}
	s.state = stateClosed
	return true
}

type registerStatus int

const (
	registerOK registerStatus = iota
	registerTaken
	registerStale
)

// registerResult carries the snapshots a successful registration needs:
// the full name list for the welcome and the peers to notify of the join,
// both taken inside the registration critical section.
type registerResult struct {
	status registerStatus
	names  []string
	others []*wsPeer
}

// registry is the shared presence state: a connection-id to session map and
// a display-name to connection-id map kept as exact inverses, plus the name
// registration order. Every mutation and every snapshot runs in a single
// critical section so no caller observes a half-updated pair.
type registry struct {
	mu     sync.Mutex
	byConn map[string]*wsSession
	byName map[string]string
	order  []string
}

func newRegistry() *registry {
	return &registry{
		byConn: make(map[string]*wsSession),
		byName: make(map[string]string),
	}
}

// register claims name for sess and transitions it to registered. Exactly
// one of two racing claims for the same name succeeds; the loser sees
// registerTaken. A session whose hello timer already expired sees
// registerStale and must not be welcomed.
//
// Lock order here and in remove/publishTargets is session then registry.
func (r *registry) register(sess *wsSession, name string) registerResult {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state != stateAwaitingHello {
		return registerResult{status: registerStale}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[name]; taken {
		return registerResult{status: registerTaken}
	}

	r.byName[name] = sess.id
	r.byConn[sess.id] = sess
	r.order = append(r.order, name)

	sess.state = stateRegistered
	sess.name = name
	sess.stopHelloTimerLocked()

	result := registerResult{
		status: registerOK,
		names:  append([]string(nil), r.order...),
		others: make([]*wsPeer, 0, len(r.byConn)-1),
	}
	for _, other := range r.byConn {
		if other == sess {
			continue
		}
		result.others = append(result.others, other.peer)
	}
	return result
}

// remove closes sess and drops it from both mappings if it was registered.
// It returns the freed name and the peers still registered afterwards.
// Safe to call for sessions that never registered, and more than once.
func (r *registry) remove(sess *wsSession) (string, []*wsPeer, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	wasRegistered := sess.state == stateRegistered
	sess.state = stateClosed
	sess.stopHelloTimerLocked()
	if !wasRegistered {
		return "", nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byConn, sess.id)
	delete(r.byName, sess.name)
	for i, existing := range r.order {
		if existing == sess.name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	remaining := make([]*wsPeer, 0, len(r.byConn))
	for _, other := range r.byConn {
		remaining = append(remaining, other.peer)
	}
	return sess.name, remaining, true
}

// names returns the registered display names in registration order.
func (r *registry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// publishTargets resolves the sender's display name and the recipient set
// for one broadcast, sender included, from a single consistent view of the
// registry. ok is false when sess is not registered.
func (r *registry) publishTargets(sess *wsSession) (string, []*wsPeer, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state != stateRegistered {
		return "", nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	targets := make([]*wsPeer, 0, len(r.byConn))
	for _, other := range r.byConn {
		targets = append(targets, other.peer)
	}
	return sess.name, targets, true
}
