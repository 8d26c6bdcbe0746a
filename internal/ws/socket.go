package ws

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/agent-broker/backend/internal/engine"
	"github.com/agent-broker/backend/internal/protocol"
	"github.com/agent-broker/backend/internal/relay"
	"github.com/agent-broker/backend/internal/session"
	"github.com/gorilla/websocket"
)

// connSender serializes writes to one WebSocket connection. The relay
// goroutine and the read loop both send, and gorilla permits only one
// concurrent writer.
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *connSender) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// handleWS serves the session socket in one of two modes. With a
// ?sessionId= query parameter the connection attaches to an existing
// session; otherwise the first frame must be a handshake and a new
// session is created for the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	sender := &connSender{conn: conn}

	if id := r.URL.Query().Get("sessionId"); id != "" {
		if !s.authorize(r) {
			sender.Send(protocol.Error{Type: protocol.MsgError, Message: "unauthorized"})
			return
		}
		s.attachSession(r.Context(), conn, sender, id)
		return
	}

	s.handshakeSession(r.Context(), conn, sender)
}

// attachSession binds the connection to a session created earlier via
// /api/session/init and serves it until either side goes away.
func (s *Server) attachSession(ctx context.Context, conn *websocket.Conn, sender *connSender, id string) {
	sess, _, ok := s.registry.FindByID(id)
	if !ok || !sess.Alive() {
		sender.Send(protocol.Error{Type: protocol.MsgError, Message: "session not found or no longer active"})
		return
	}

	sender.Send(protocol.Connected{
		Type:      protocol.MsgConnected,
		SessionID: sess.ID,
		Message:   "Attached to session",
	})

	s.serveSession(ctx, conn, sender, sess, sess.Task)
}

// handshakeSession reads the opening handshake frame, creates a session
// for it, and serves the session on this connection. The handshake must
// arrive within the configured timeout or the connection is dropped.
func (s *Server) handshakeSession(ctx context.Context, conn *websocket.Conn, sender *connSender) {
	deadline := s.cfg.Session.HandshakeTimeout
	if deadline > 0 {
		conn.SetReadDeadline(time.Now().Add(deadline))
	}

	var hs protocol.Handshake
	if err := conn.ReadJSON(&hs); err != nil {
		sender.Send(protocol.Error{Type: protocol.MsgError, Message: "handshake not received"})
		return
	}
	conn.SetReadDeadline(time.Time{})

	if s.authToken != "" && hs.Token != s.authToken {
		sender.Send(protocol.Error{Type: protocol.MsgError, Message: "unauthorized"})
		return
	}
	if hs.Task == "" {
		sender.Send(protocol.Error{Type: protocol.MsgError, Message: "missing required field: task"})
		return
	}

	sender.Send(protocol.Status{
		Type:    protocol.MsgStatus,
		Status:  "initializing",
		Message: "Setting up agent session...",
	})

	ownerKey := hs.ProjectID
	if ownerKey == "" {
		ownerKey = "default_user"
	}

	sess, err := s.createSession(ctx, ownerKey, hs)
	if err != nil {
		sender.Send(protocol.Error{Type: protocol.MsgError, Message: createErrMessage(err)})
		return
	}

	admitted, isNew := s.controller.Admit(s.admissionKey(sess), sess)
	if !isNew {
		sess = admitted
	}

	status := "ready"
	if !s.engineUp {
		status = "mock_mode"
	}
	sender.Send(protocol.Status{
		Type:      protocol.MsgStatus,
		Status:    status,
		SessionID: sess.ID,
		Message:   "Agent session ready",
	})

	s.serveSession(ctx, conn, sender, sess, hs.Task)
}

func createErrMessage(err error) string {
	if isAuthErr(err) {
		return "Invalid API key"
	}
	return err.Error()
}

// serveSession runs the relay and the client read loop for one session.
// Returning — whatever the reason — destroys the session: a departed
// client has no way back to a headless run.
func (s *Server) serveSession(ctx context.Context, conn *websocket.Conn, sender *connSender, sess *session.Session, task string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.controller.DestroyByID(sess.ID)

	go relay.New(sess, sender, s.cfg.Session.PollInterval).Run(ctx)

	// One turn at a time on the engine.
	var turn sync.Mutex
	s.startTurn(ctx, sess, sender, &turn, task)

	for {
		var in protocol.Inbound
		if err := conn.ReadJSON(&in); err != nil {
			return
		}

		switch in.Type {
		case protocol.ClientStop:
			sender.Send(protocol.Status{
				Type:    protocol.MsgStatus,
				Status:  "stopping",
				Message: "Stopping agent session",
			})
			return

		case protocol.ClientFileWrite:
			s.handleFileWrite(ctx, sess, sender, in)

		case protocol.ClientMessage, protocol.ClientCommand:
			if in.Content == "" {
				sender.Send(protocol.Error{Type: protocol.MsgError, Message: "empty message"})
				continue
			}
			s.startTurn(ctx, sess, sender, &turn, in.Content)

		default:
			sender.Send(protocol.Error{Type: protocol.MsgError, Message: "unknown message type: " + in.Type})
		}
	}
}

// handleFileWrite applies a client edit to the workspace and reflects it
// back through the event channel so the tree refresh rides the normal
// relay path.
func (s *Server) handleFileWrite(ctx context.Context, sess *session.Session, sender *connSender, in protocol.Inbound) {
	if in.Path == "" {
		sender.Send(protocol.Error{Type: protocol.MsgError, Message: "file_write requires a path"})
		return
	}

	if err := sess.Workspace.WriteFile(ctx, in.Path, in.Content); err != nil {
		sender.Send(protocol.Error{Type: protocol.MsgError, Message: "write failed: " + err.Error()})
		return
	}

	msg, refresh := engine.Classify(engine.Event{
		Kind:    "FileWriteObservation",
		Content: "File saved: " + in.Path,
		Path:    in.Path,
	})
	sess.Events.Push(session.Item{Msg: msg, RefreshTree: refresh})

	sender.Send(protocol.Ack{Type: protocol.MsgAck, Message: "File written: " + in.Path})
}

// startTurn queues text for the engine and runs one turn in the
// background. The turn mutex serializes runs; a second message while a
// turn is in flight waits its turn rather than interleaving streams.
func (s *Server) startTurn(ctx context.Context, sess *session.Session, sender *connSender, turn *sync.Mutex, text string) {
	msg, refresh := engine.Classify(engine.Event{
		Kind:    "TaskStartAction",
		Content: text,
	})
	sess.Events.Push(session.Item{Msg: msg, RefreshTree: refresh})

	if err := sess.Engine.SendMessage(text); err != nil {
		sender.Send(protocol.Error{Type: protocol.MsgError, Message: "failed to queue message: " + err.Error()})
		return
	}

	go func() {
		turn.Lock()
		defer turn.Unlock()

		err := sess.Engine.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			sender.Send(protocol.Error{Type: protocol.MsgError, Message: "agent run failed: " + err.Error()})
			return
		}
		sender.Send(protocol.Status{
			Type:      protocol.MsgStatus,
			Status:    "completed",
			SessionID: sess.ID,
			Message:   "Agent run completed",
		})
	}()
}
