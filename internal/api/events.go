package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/terra-clan/skillscout/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const eventWriteTimeout = 10 * time.Second

// EventMessage is one frame on the repository events stream
type EventMessage struct {
	Type    string              `json:"type"`
	Event   *models.StatusEvent `json:"event,omitempty"`
	Message string              `json:"message,omitempty"`
}

// handleRepositoryEvents streams analysis status changes of one repository.
// The first frame is the current status.
func (s *Server) handleRepositoryEvents(w http.ResponseWriter, r *http.Request) {
	repositoryID := chi.URLParam(r, "id")

	repo, err := s.repositories.Get(r.Context(), repositoryID)
	if err != nil {
		respondFailure(w, err, "get repository")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	// the server's ReadTimeout still applies to the hijacked connection
	conn.SetReadDeadline(time.Time{})

	slog.Info("events websocket connected", "repository_id", repositoryID)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Subscribe before the snapshot so no transition falls between them
	events, unsubscribe, err := s.repositories.Bus().Subscribe(ctx, repositoryID)
	if err != nil {
		slog.Error("failed to subscribe to status events", "error", err, "repository_id", repositoryID)
		s.sendEventMessage(conn, EventMessage{Type: "error", Message: "failed to subscribe to status events"})
		return
	}
	defer unsubscribe()

	if err := s.sendEventMessage(conn, EventMessage{
		Type: "status",
		Event: &models.StatusEvent{
			RepositoryID: repo.ID,
			Status:       repo.AnalysisStatus,
			Timestamp:    time.Now().UTC(),
		},
	}); err != nil {
		return
	}

	var wg sync.WaitGroup

	// Drain the client side so close frames are noticed
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := s.sendEventMessage(conn, EventMessage{Type: "status", Event: &ev}); err != nil {
					return
				}
			}
		}
	}()

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()
	wg.Wait()

	slog.Info("events websocket disconnected", "repository_id", repositoryID)
}

func (s *Server) sendEventMessage(conn *websocket.Conn, msg EventMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
