package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/louisbranch/relay.chat/internal/services/relay/protocol"
	"github.com/louisbranch/relay.chat/internal/services/relay/username"
)

// NewHandler creates relay routes with default limits, for tests and
// embedding.
func NewHandler() http.Handler {
	return newHandler(handlerOptions{})
}

type handlerOptions struct {
	helloTimeout    time.Duration
	maxMessageRunes int
	closeGrace      time.Duration
	clock           func() time.Time
}

func newHandler(opts handlerOptions) http.Handler {
	if opts.helloTimeout <= 0 {
		opts.helloTimeout = defaultHelloTimeout
	}
	if opts.maxMessageRunes <= 0 {
		opts.maxMessageRunes = defaultMaxMessageRunes
	}
	if opts.closeGrace <= 0 {
		opts.closeGrace = defaultCloseGraceDelay
	}
	if opts.clock == nil {
		opts.clock = time.Now
	}
	relay := &wsRelay{
		registry:        newRegistry(),
		helloTimeout:    opts.helloTimeout,
		maxMessageRunes: opts.maxMessageRunes,
		closeGrace:      opts.closeGrace,
		clock:           opts.clock,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(relay.handleConn)

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

// wsRelay owns the presence registry and the per-connection frame handling.
type wsRelay struct {
	registry        *registry
	helloTimeout    time.Duration
	maxMessageRunes int
	closeGrace      time.Duration
	clock           func() time.Time
}

func (rl *wsRelay) handleConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	peer := newWSPeer(json.NewEncoder(conn))
	sess := newWSSession(uuid.NewString(), peer)
	defer rl.finishConn(sess)

	sess.startHelloTimer(rl.helloTimeout, func() {
		if !sess.expire() {
			return
		}
		_ = writeServerError(peer, protocol.CodeHelloTimeout, "no hello received within the handshake window")
		_ = conn.Close()
	})

	decoder := json.NewDecoder(conn)
	decodeErrors := 0

	for {
		var frame protocol.Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeServerError(peer, protocol.CodeInvalidMessage, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeServerError(peer, protocol.CodeInvalidMessage, "payload too large")
			continue
		}

		if rl.dispatchFrame(sess, frame) {
			return
		}
	}
}

// finishConn runs the disconnect path: prune the registry and announce the
// departure to everyone still registered. Idempotent, so it is safe as the
// single deferred cleanup for every way a connection ends.
func (rl *wsRelay) finishConn(sess *wsSession) {
	name, remaining, wasRegistered := rl.registry.remove(sess)
	if !wasRegistered {
		return
	}
	left := mustFrame(protocol.EventUserLeft, protocol.UserLeft{Username: name})
	for _, other := range remaining {
		_ = other.writeFrame(left)
	}
}

// dispatchFrame routes one frame and reports whether the connection should
// close. Panics are contained here: the connection survives with an
// INTERNAL error unless the failure happened during registration.
func (rl *wsRelay) dispatchFrame(sess *wsSession, frame protocol.Frame) (terminate bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("relay: panic handling %s frame conn=%s: %v", frame.Type, sess.id, rec)
			_ = writeServerError(sess.peer, protocol.CodeInternal, "internal server error")
			if frame.Type == protocol.EventHello {
				terminate = true
			}
		}
	}()

	switch frame.Type {
	case protocol.EventHello:
		return rl.handleHelloFrame(sess, frame)
	case protocol.EventChatPublic:
		rl.handleChatFrame(sess, frame)
	case protocol.EventCommandList:
		rl.handleListFrame(sess)
	case protocol.EventCommandQuit:
		return true
	default:
		log.Printf("relay: ignoring unsupported frame type %q conn=%s", frame.Type, sess.id)
	}
	return false
}

func (rl *wsRelay) handleHelloFrame(sess *wsSession, frame protocol.Frame) bool {
	if !sess.awaitingHello() {
		// A repeated hello after registration is ignored.
		return false
	}

	var payload protocol.Hello
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return rl.failHandshake(sess, protocol.CodeInvalidUsername, "invalid hello payload")
	}

	name, err := username.Validate(payload.Username)
	if err != nil {
		return rl.failHandshake(sess, protocol.CodeInvalidUsername, err.Error())
	}

	result := rl.registry.register(sess, name)
	switch result.status {
	case registerTaken:
		return rl.failHandshake(sess, protocol.CodeUsernameTaken, "username is already in use")
	case registerStale:
		// The hello timer fired first and owns the teardown.
		return true
	}

	_ = sess.peer.writeFrame(mustFrame(protocol.EventWelcome, protocol.Welcome{
		Username:       name,
		ConnectedUsers: result.names,
	}))

	joined := mustFrame(protocol.EventUserJoined, protocol.UserJoined{Username: name})
	for _, other := range result.others {
		_ = other.writeFrame(joined)
	}
	return false
}

func (rl *wsRelay) handleChatFrame(sess *wsSession, frame protocol.Frame) {
	if !sess.registered() {
		_ = writeServerError(sess.peer, protocol.CodeNotRegistered, "hello must complete before chatting")
		return
	}

	var payload protocol.ChatSend
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeServerError(sess.peer, protocol.CodeInvalidMessage, "invalid chat payload")
		return
	}

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		_ = writeServerError(sess.peer, protocol.CodeInvalidMessage, "text is required")
		return
	}
	if utf8.RuneCountInString(text) > rl.maxMessageRunes {
		_ = writeServerError(sess.peer, protocol.CodeInvalidMessage,
			fmt.Sprintf("text must be at most %d characters", rl.maxMessageRunes))
		return
	}

	name, targets, ok := rl.registry.publishTargets(sess)
	if !ok {
		_ = writeServerError(sess.peer, protocol.CodeNotRegistered, "hello must complete before chatting")
		return
	}

	message := mustFrame(protocol.EventChatPublic, protocol.ChatMessage{
		Username: name,
		Text:     text,
		At:       rl.clock().UnixMilli(),
	})
	for _, target := range targets {
		_ = target.writeFrame(message)
	}
}

func (rl *wsRelay) handleListFrame(sess *wsSession) {
	if !sess.registered() {
		_ = writeServerError(sess.peer, protocol.CodeNotRegistered, "hello must complete before listing users")
		return
	}
	_ = sess.peer.writeFrame(mustFrame(protocol.EventUsersList, protocol.UsersList{
		Users: rl.registry.names(),
	}))
}

// failHandshake reports a handshake rejection and holds the connection open
// for the grace delay so the error frame is delivered before teardown.
func (rl *wsRelay) failHandshake(sess *wsSession, code protocol.Code, message string) bool {
	_ = writeServerError(sess.peer, code, message)
	time.Sleep(rl.closeGrace)
	return true
}

func writeServerError(peer *wsPeer, code protocol.Code, message string) error {
	return peer.writeFrame(mustFrame(protocol.EventServerError, protocol.ServerError{
		Code:    code,
		Message: message,
	}))
}

func mustFrame(event string, payload any) protocol.Frame {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		log.Printf("relay: marshal %s frame payload: %v", event, err)
		return protocol.Frame{Type: event}
	}
	return frame
}
