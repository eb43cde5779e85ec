package api

import (
	"context"
	"encoding/json"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/devmate/devmate/pkg/channel"
	derrors "github.com/devmate/devmate/pkg/errors"
	"github.com/devmate/devmate/pkg/logging"
)

const maxWSReadBytes = 1 << 20 // AI fragments can carry whole trees

// inboundFrame is what clients send over the socket.
type inboundFrame struct {
	Message string `json:"message"`
}

// handleWS joins the caller to a project room. Auth happens before the
// upgrade; a bad token costs a 401, not a dangling socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)
	if token == "" {
		// Browsers can't set headers on WebSocket dials.
		token = r.URL.Query().Get("token")
	}
	identity, err := s.tokens.Verify(r.Context(), token)
	if err != nil {
		s.writeError(w, r, authError(err))
		return
	}

	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		s.writeError(w, r, derrors.New(derrors.ErrCodeInvalidInput, "projectId is required"))
		return
	}

	member, err := s.store.IsMember(projectID, identity.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !member {
		s.writeError(w, r, derrors.New(derrors.ErrCodeNotFound, "project not found").
			WithContext("project", projectID).WithContext("user", identity.ID))
		return
	}

	session, err := s.sessions.Open(r.Context(), projectID, identity.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin is enforced by corsMiddleware config
	})
	if err != nil {
		if s.logger != nil {
			_ = s.logger.Warn(logging.CategoryChannel, "ws_accept_failed", err.Error(),
				map[string]any{"project": projectID})
		}
		return
	}
	conn.SetReadLimit(maxWSReadBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	who := channel.Sender{ID: identity.ID, Email: identity.Email}
	client, err := s.hub.Join(ctx, projectID, conn, who)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "join failed")
		return
	}
	metricConnections.Inc()
	defer metricConnections.Dec()
	defer client.Leave(context.WithoutCancel(ctx))

	go channel.KeepAlive(ctx, conn)
	go func() {
		defer cancel()
		_ = client.WriteLoop(ctx)
	}()

	s.readClient(ctx, session, client)
}

// readClient pumps inbound frames: each becomes a chat event for the room
// and lands in the session log. AI-originated frames never arrive here; the
// hub handles those through Publish.
func (s *Server) readClient(ctx context.Context, session sessionSink, client *channel.Client) {
	who := client.Sender()
	for {
		data, err := client.Read(ctx)
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Message == "" {
			continue
		}

		ev := channel.Event{
			Type:      channel.EventChatMessage,
			ProjectID: client.ProjectID(),
			Sender:    &who,
			Message:   frame.Message,
		}
		s.hub.Publish(ctx, ev, client)
		metricMessages.Inc()

		if err := session.HandleMessage(ctx, ev); err != nil && s.logger != nil {
			_ = s.logger.Error(logging.CategoryChannel, "message_handling_failed", err.Error(),
				map[string]any{"project": client.ProjectID(), "user": who.ID})
		}
	}
}

// sessionSink is the slice of the collab session the read loop needs.
type sessionSink interface {
	HandleMessage(ctx context.Context, ev channel.Event) error
}
