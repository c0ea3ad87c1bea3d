// Package session is the client-side counterpart of the relay protocol: it
// owns one connection, performs the registering handshake, and fans
// incoming events out to typed subscriptions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/relay.chat/internal/services/relay/protocol"
)

// ErrAlreadyConnected is returned by Connect when the session already holds
// an active connection.
var ErrAlreadyConnected = errors.New("session already has an active connection")

// ErrConnectInFlight is returned by Connect when another connect attempt
// has not resolved yet.
var ErrConnectInFlight = errors.New("another connect attempt is in flight")

// ErrNotConnected is returned by operations that need an active connection.
var ErrNotConnected = errors.New("session is not connected")

const defaultHelloTimeout = 10 * time.Second

// Config defines the inputs for a client session.
type Config struct {
	// URL is the relay WebSocket endpoint, e.g. ws://localhost:8086/ws.
	URL string
	// Origin is the handshake origin header. Defaults to the HTTP form of
	// URL when empty.
	Origin string
	// HelloTimeout bounds how long Connect waits for the server to answer
	// the hello. Defaults to 10s.
	HelloTimeout time.Duration
}

// Session manages at most one relay connection at a time. Callbacks fire on
// the connection's single read-loop goroutine, so subscribers never observe
// two events interleaved mid-handler.
type Session struct {
	url          string
	origin       string
	helloTimeout time.Duration

	mu         sync.Mutex
	wire       *wire
	connecting bool

	chat        handlerSet[protocol.ChatMessage]
	usersList   handlerSet[[]string]
	userJoined  handlerSet[string]
	userLeft    handlerSet[string]
	serverError handlerSet[protocol.ServerError]
	disconnect  handlerSet[string]
}

// New builds a session for the given relay endpoint.
func New(config Config) (*Session, error) {
	url := strings.TrimSpace(config.URL)
	if url == "" {
		return nil, errors.New("relay url is required")
	}
	origin := strings.TrimSpace(config.Origin)
	if origin == "" {
		origin = "http" + strings.TrimPrefix(url, "ws")
	}
	helloTimeout := config.HelloTimeout
	if helloTimeout <= 0 {
		helloTimeout = defaultHelloTimeout
	}
	return &Session{url: url, origin: origin, helloTimeout: helloTimeout}, nil
}

// wire couples a connection with a write-serializing encoder so outbound
// frames never interleave.
type wire struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	encoder *json.Encoder

	// dead is set by the read loop's teardown, guarded by Session.mu. It
	// keeps Connect from installing a wire whose loop already exited.
	dead bool
}

func newWire(conn *websocket.Conn) *wire {
	return &wire{conn: conn, encoder: json.NewEncoder(conn)}
}

func (w *wire) writeFrame(frame protocol.Frame) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.encoder.Encode(frame)
}

type handshakeResult struct {
	welcome protocol.Welcome
	err     error
}

// Connect dials the relay, sends hello with name, and blocks until the
// server answers. It resolves with the welcome on success and rejects on a
// dial failure, on any server:error received before the welcome, or when
// ctx or the hello timeout ends the wait first. On rejection the half-open
// connection is torn down so a retry starts clean. Exactly one connect
// attempt may be in flight.
func (s *Session) Connect(ctx context.Context, name string) (protocol.Welcome, error) {
	if ctx == nil {
		return protocol.Welcome{}, errors.New("context is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.helloTimeout)
	defer cancel()

	s.mu.Lock()
	if s.wire != nil {
		s.mu.Unlock()
		return protocol.Welcome{}, ErrAlreadyConnected
	}
	if s.connecting {
		s.mu.Unlock()
		return protocol.Welcome{}, ErrConnectInFlight
	}
	s.connecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	conn, err := websocket.Dial(s.url, "", s.origin)
	if err != nil {
		return protocol.Welcome{}, fmt.Errorf("dial relay: %w", err)
	}
	w := newWire(conn)

	handshake := make(chan handshakeResult, 1)
	go s.readLoop(w, handshake)

	hello, err := protocol.NewFrame(protocol.EventHello, protocol.Hello{Username: name})
	if err != nil {
		_ = conn.Close()
		return protocol.Welcome{}, err
	}
	if err := w.writeFrame(hello); err != nil {
		_ = conn.Close()
		return protocol.Welcome{}, fmt.Errorf("send hello: %w", err)
	}

	select {
	case result := <-handshake:
		if result.err != nil {
			_ = conn.Close()
			return protocol.Welcome{}, result.err
		}
		s.mu.Lock()
		if !w.dead {
			s.wire = w
		}
		s.mu.Unlock()
		return result.welcome, nil
	case <-ctx.Done():
		_ = conn.Close()
		return protocol.Welcome{}, ctx.Err()
	}
}

// Disconnect closes the active connection. It is a no-op when nothing is
// connected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	w := s.wire
	s.wire = nil
	s.mu.Unlock()
	if w != nil {
		_ = w.conn.Close()
	}
}

// Send broadcasts a public chat message through the relay.
func (s *Session) Send(text string) error {
	frame, err := protocol.NewFrame(protocol.EventChatPublic, protocol.ChatSend{Text: text})
	if err != nil {
		return err
	}
	return s.writeFrame(frame)
}

// RequestUsers asks the relay for the current participant list. The answer
// arrives through OnUsersList subscriptions.
func (s *Session) RequestUsers() error {
	frame, err := protocol.NewFrame(protocol.EventCommandList, nil)
	if err != nil {
		return err
	}
	return s.writeFrame(frame)
}

// Quit asks the relay to close this connection from its side.
func (s *Session) Quit() error {
	frame, err := protocol.NewFrame(protocol.EventCommandQuit, nil)
	if err != nil {
		return err
	}
	return s.writeFrame(frame)
}

func (s *Session) writeFrame(frame protocol.Frame) error {
	s.mu.Lock()
	w := s.wire
	s.mu.Unlock()
	if w == nil {
		return ErrNotConnected
	}
	return w.writeFrame(frame)
}

// OnChat subscribes to broadcast chat messages. The returned func removes
// the subscription.
func (s *Session) OnChat(fn func(protocol.ChatMessage)) func() {
	return s.chat.add(fn)
}

// OnUsersList subscribes to participant list answers.
func (s *Session) OnUsersList(fn func([]string)) func() {
	return s.usersList.add(fn)
}

// OnUserJoined subscribes to join announcements.
func (s *Session) OnUserJoined(fn func(string)) func() {
	return s.userJoined.add(fn)
}

// OnUserLeft subscribes to leave announcements.
func (s *Session) OnUserLeft(fn func(string)) func() {
	return s.userLeft.add(fn)
}

// OnServerError subscribes to server-reported protocol errors.
func (s *Session) OnServerError(fn func(protocol.ServerError)) func() {
	return s.serverError.add(fn)
}

// OnDisconnect subscribes to connection teardown. The callback receives the
// transport-supplied reason.
func (s *Session) OnDisconnect(fn func(string)) func() {
	return s.disconnect.add(fn)
}

// readLoop decodes frames until the connection dies, resolving the pending
// handshake exactly once and dispatching everything else to subscribers.
func (s *Session) readLoop(w *wire, handshake chan<- handshakeResult) {
	decoder := json.NewDecoder(w.conn)
	handshakeDone := false
	reason := "connection closed"

	for {
		var frame protocol.Frame
		if err := decoder.Decode(&frame); err != nil {
			if !errors.Is(err, io.EOF) {
				reason = err.Error()
			}
			break
		}

		switch frame.Type {
		case protocol.EventWelcome:
			var welcome protocol.Welcome
			if err := json.Unmarshal(frame.Payload, &welcome); err != nil {
				continue
			}
			if !handshakeDone {
				handshakeDone = true
				handshake <- handshakeResult{welcome: welcome}
			}
		case protocol.EventServerError:
			var serverErr protocol.ServerError
			if err := json.Unmarshal(frame.Payload, &serverErr); err != nil {
				continue
			}
			if !handshakeDone {
				handshakeDone = true
				handshake <- handshakeResult{err: serverErr}
			}
			s.serverError.emit(serverErr)
		case protocol.EventChatPublic:
			var msg protocol.ChatMessage
			if err := json.Unmarshal(frame.Payload, &msg); err != nil {
				continue
			}
			s.chat.emit(msg)
		case protocol.EventUsersList:
			var list protocol.UsersList
			if err := json.Unmarshal(frame.Payload, &list); err != nil {
				continue
			}
			s.usersList.emit(list.Users)
		case protocol.EventUserJoined:
			var joined protocol.UserJoined
			if err := json.Unmarshal(frame.Payload, &joined); err != nil {
				continue
			}
			s.userJoined.emit(joined.Username)
		case protocol.EventUserLeft:
			var left protocol.UserLeft
			if err := json.Unmarshal(frame.Payload, &left); err != nil {
				continue
			}
			s.userLeft.emit(left.Username)
		}
	}

	s.mu.Lock()
	w.dead = true
	if s.wire == w {
		s.wire = nil
	}
	s.mu.Unlock()
	_ = w.conn.Close()

	if !handshakeDone {
		handshake <- handshakeResult{err: fmt.Errorf("connection closed before welcome: %s", reason)}
	}
	s.disconnect.emit(reason)
}

// handlerSet tracks subscriptions by handle so duplicate callbacks stay
// individually removable.
type handlerSet[T any] struct {
	mu     sync.Mutex
	nextID int
	active map[int]func(T)
}

func (h *handlerSet[T]) add(fn func(T)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		h.active = make(map[int]func(T))
	}
	h.nextID++
	id := h.nextID
	h.active[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.active, id)
	}
}

func (h *handlerSet[T]) emit(value T) {
	h.mu.Lock()
	handlers := make([]func(T), 0, len(h.active))
	for _, fn := range h.active {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()
	for _, fn := range handlers {
		fn(value)
	}
}
