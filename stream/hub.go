package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const clientBuffer = 64

// Hub is a Sink that fans events out to Server-Sent Events subscribers.
//
// When a secret is configured, subscribers must present a token issued by
// IssueToken; the token subject selects the session whose events they
// receive. Without a secret the optional "session" query parameter filters
// events and an empty filter receives everything.
type Hub struct {
	secret []byte
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	session string
	ch      chan []byte
}

// NewHub creates a hub. A nil logger uses slog.Default.
func NewHub(secret string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &Hub{secret: key, logger: logger, clients: make(map[*client]struct{})}
}

// IssueToken signs a subscriber token for one session.
func (h *Hub) IssueToken(sessionID string, ttl time.Duration) (string, error) {
	if h.secret == nil {
		return "", errors.New("hub has no signing secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
}

func (h *Hub) verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// subscriberSession authenticates a request and returns its session filter.
func (h *Hub) subscriberSession(r *http.Request) (string, error) {
	if h.secret == nil {
		return r.URL.Query().Get("session"), nil
	}
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" {
		return "", errors.New("missing token")
	}
	return h.verify(token)
}

// ServeHTTP streams events to one subscriber until it disconnects or the
// hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := h.subscriberSession(r)
	if err != nil {
		h.logger.Warn("stream subscriber rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	c := &client{session: session, ch: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer h.remove(c)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	h.logger.Debug("stream subscriber connected", "session", session)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-c.ch:
			if !open {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.ch)
	}
}

// Emit implements Sink. Events are dropped for subscribers whose buffer is full.
func (h *Hub) Emit(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("stream event not encodable", "type", ev.Type, "error", err)
		return
	}
	payload := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, data))

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.session != "" && ev.SessionID != "" && c.session != ev.SessionID {
			continue
		}
		select {
		case c.ch <- payload:
		default:
			h.logger.Debug("stream event dropped for slow subscriber", "type", ev.Type, "session", c.session)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.ch)
		delete(h.clients, c)
	}
}
