package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"flowdistributor/internal/ai"

	"github.com/google/uuid"
)

// ── Pending intent store ──────────────────────────────────────────────────────

// pendingIntent is stored server-side until the user confirms or cancels.
type pendingIntent struct {
	Intent    ai.PaymentIntent
	CreatedAt time.Time
}

const pendingTTL = 15 * time.Minute

// pendingStore is a thread-safe in-memory store with TTL expiry.
type pendingStore struct {
	mu      sync.Mutex
	intents map[string]pendingIntent
}

func newPendingStore() *pendingStore {
	return &pendingStore{intents: make(map[string]pendingIntent)}
}

func (s *pendingStore) put(token string, p pendingIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[token] = p
}

// take returns and removes the intent for token, so each one runs at most once.
func (s *pendingStore) take(token string) (pendingIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.intents[token]
	if !ok {
		return pendingIntent{}, false
	}
	delete(s.intents, token)
	if time.Since(p.CreatedAt) > pendingTTL {
		return pendingIntent{}, false
	}
	return p, true
}

// startPurge starts a background goroutine that evicts expired entries every 5 minutes.
func (s *pendingStore) startPurge(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				for token, p := range s.intents {
					if time.Since(p.CreatedAt) > pendingTTL {
						delete(s.intents, token)
					}
				}
				s.mu.Unlock()
			}
		}
	}()
}

// apiInterpret handles POST /api/ai/interpret. A ready intent is parked under a token
// that /api/ai/confirm executes; nothing is written here.
func (h *Handler) apiInterpret(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Text == "" {
		writeError(w, r, "text is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.InterpretPayment(r.Context(), body.Text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := map[string]any{"result": result}
	if result.Ready {
		token := uuid.NewString()
		h.pending.put(token, pendingIntent{Intent: result.Intent, CreatedAt: time.Now()})
		resp["token"] = token
	}
	writeJSON(w, resp)
}

// apiConfirm handles POST /api/ai/confirm with {token, action: confirm|cancel}.
// The token doubles as the idempotency key of the executed command.
func (h *Handler) apiConfirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token  string `json:"token"`
		Action string `json:"action"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Token == "" {
		writeError(w, r, "token is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if body.Action != "confirm" && body.Action != "cancel" {
		writeError(w, r, "action must be 'confirm' or 'cancel'", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	p, ok := h.pending.take(body.Token)
	if !ok {
		writeError(w, r, "token not found or expired", "NOT_FOUND", http.StatusNotFound)
		return
	}
	if body.Action == "cancel" {
		writeJSON(w, map[string]any{"ok": true, "message": "Cancelled."})
		return
	}

	rc, err := h.svc.ExecuteIntent(r.Context(), p.Intent, "ai-"+body.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeCreated(w, rc)
}
