package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"mintify/internal/identity"
	"mintify/internal/log"
	"mintify/internal/metrics"
	"mintify/internal/storage"
)

const writeTimeout = 10 * time.Second

// Router builds the notifier HTTP surface: the internal /notify ingress,
// the authenticated notification API, and the /ws push endpoint.
func Router(svc *Service, registry *Registry, limit int, logger *log.Logger) http.Handler {
	h := &handlers{
		svc:      svc,
		registry: registry,
		limit:    limit,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The gateway fronts this service; origin policy lives there.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(metrics.Middleware("notifier"))

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Internal ingress: callers name the recipient in the body.
	r.Post("/notify", h.notify)

	r.Get("/ws", h.ws)

	r.Group(func(r chi.Router) {
		r.Use(identity.Require(logger))
		r.Get("/api/notifications", h.list)
		r.Put("/api/notifications/{id}/read", h.markRead)
	})

	return r
}

type handlers struct {
	svc      *Service
	registry *Registry
	limit    int
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "notifier"})
}

type notifyRequest struct {
	UserID  string `json:"userId"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// notify accepts a notification for any user. Delivery to open
// connections is best effort; the response only acknowledges the stored
// record.
func (h *handlers) notify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.UserID == "" || req.Title == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "userId, title and message are required.")
		return
	}

	n, err := h.svc.Create(r.Context(), req.UserID, req.Type, req.Title, req.Message)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Create notification failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create notification.")
		return
	}
	writeJSON(w, http.StatusAccepted, n)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "true"
	list, err := h.svc.List(r.Context(), identity.UserID(r.Context()), unreadOnly, h.limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "List notifications failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch notifications.")
		return
	}
	if list == nil {
		list = []storage.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkRead(r.Context(), identity.UserID(r.Context()), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Notification not found.")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Mark notification read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update notification.")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// ws upgrades the connection and registers it under the userId the client
// declares in the query string. The read loop exists only to notice the
// close; clients never send application frames.
func (h *handlers) ws(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required.")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Upgrade failed", "error", err)
		return
	}

	pc := &pushConn{conn: conn}
	if err := pc.WriteJSON(Frame{Type: "CONNECTED"}); err != nil {
		_ = conn.Close()
		return
	}

	h.registry.Add(userID, pc)
	h.logger.Info("Push connection opened", "user_id", userID)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.registry.Remove(userID, pc)
				_ = conn.Close()
				h.logger.Info("Push connection closed", "user_id", userID)
				return
			}
		}
	}()
}

// pushConn bounds every write so a stalled peer is detected and dropped
// instead of blocking the broadcast path.
type pushConn struct {
	conn *websocket.Conn
}

func (c *pushConn) WriteJSON(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *pushConn) Close() error {
	return c.conn.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
