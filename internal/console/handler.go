// Package console serves a websocket formula console: authors evaluate
// formulas against sample records and get field completions while typing.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"

	"github.com/matthewbaird/payoutrules/internal/formula"
	"github.com/matthewbaird/payoutrules/internal/logger"
)

// OwnerFunc extracts the caller's owner ID from the upgrade request.
type OwnerFunc func(r *http.Request) string

// Handler manages console websocket connections.
type Handler struct {
	sessions *Manager
	formulas *formula.Cache
	owner    OwnerFunc
	origins  []string
}

func NewHandler(sessions *Manager, formulas *formula.Cache, owner OwnerFunc, originPatterns ...string) *Handler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &Handler{sessions: sessions, formulas: formulas, owner: owner, origins: originPatterns}
}

// ServeHTTP upgrades to a websocket and runs the message loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		logger.WithError(err).Warn("console: websocket accept")
		return
	}
	defer conn.CloseNow()

	owner := ""
	if h.owner != nil {
		owner = h.owner(r)
	}
	sess := h.sessions.Create(owner)
	defer h.sessions.Remove(sess.ID)
	ctx := r.Context()
	log := logger.WithFields(logrus.Fields{"session_id": sess.ID, "owner_id": owner})
	log.Debug("console: session opened")

	h.send(ctx, conn, ServerMessage{Type: "session", Data: SessionData{SessionID: sess.ID}})

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				log.WithField("status", status).Debug("console: connection closed")
			} else if !errors.Is(err, context.Canceled) {
				log.WithError(err).Debug("console: read failed")
			}
			return
		}

		switch msg.Type {
		case "evaluate":
			h.handleEvaluate(ctx, conn, sess, msg)
		case "complete":
			h.handleComplete(ctx, conn, sess, msg)
		case "ping":
			h.send(ctx, conn, ServerMessage{Type: "pong", RequestID: msg.ID})
		default:
			h.sendError(ctx, conn, msg.ID, ErrorData{Code: "unknown_type", Message: fmt.Sprintf("unknown message type: %s", msg.Type)})
		}
	}
}

func (h *Handler) handleEvaluate(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	var data EvaluateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, ErrorData{Code: "invalid_data", Message: "invalid evaluate data"})
		return
	}
	if data.Formula == "" {
		h.sendError(ctx, conn, msg.ID, ErrorData{Code: "empty_formula", Message: "empty formula"})
		return
	}
	record := sess.Remember(data.Formula, data.Record)

	expr, err := h.formulas.Compile(data.Formula)
	if err != nil {
		ed := ErrorData{Code: "syntax_error", Message: err.Error()}
		var se *formula.SyntaxError
		if errors.As(err, &se) {
			ed.Message = se.Message
			ed.Col = se.Col
			ed.Suggestion = se.Suggestion
		}
		h.sendError(ctx, conn, msg.ID, ed)
		return
	}

	res := ResultData{Fields: expr.Fields(), Canonical: expr.String()}
	if v, ok := expr.Evaluate(record); ok {
		res.Value = &v
	}
	h.send(ctx, conn, ServerMessage{Type: "result", RequestID: msg.ID, Data: res})
}

func (h *Handler) handleComplete(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	var data CompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, ErrorData{Code: "invalid_data", Message: "invalid complete data"})
		return
	}
	record := sess.Remember("", data.Record)
	h.send(ctx, conn, ServerMessage{
		Type:      "completions",
		RequestID: msg.ID,
		Data:      CompletionsData{Items: Complete(data.Formula, data.Cursor, record)},
	})
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		logger.WithError(err).Debug("console: write error")
	}
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, requestID string, data ErrorData) {
	h.send(ctx, conn, ServerMessage{Type: "error", RequestID: requestID, Data: data})
}
