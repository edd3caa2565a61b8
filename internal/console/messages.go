package console

import (
	"encoding/json"

	"github.com/matthewbaird/payoutrules/internal/types"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server messages.
type ClientMessage struct {
	Type string          `json:"type"` // "evaluate", "complete", "ping"
	ID   string          `json:"id"`   // Client-assigned request ID
	Data json.RawMessage `json:"data,omitempty"`
}

// EvaluateData is the payload for "evaluate" messages. A nil Record reuses
// the last record the session saw.
type EvaluateData struct {
	Formula string                 `json:"formula"`
	Record  types.RawBookingSource `json:"record,omitempty"`
}

// CompleteData is the payload for "complete" messages.
type CompleteData struct {
	Formula string                 `json:"formula"`
	Cursor  int                    `json:"cursor"`
	Record  types.RawBookingSource `json:"record,omitempty"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client messages.
type ServerMessage struct {
	Type      string `json:"type"` // "session", "result", "completions", "pong", "error"
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// ResultData is the outcome of an evaluation. A nil Value is absent.
type ResultData struct {
	Value     *float64 `json:"value"`
	Fields    []string `json:"fields"`
	Canonical string   `json:"canonical"`
}

type ErrorData struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Col        int    `json:"col,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type CompletionsData struct {
	Items []CompletionItem `json:"items"`
}

type SessionData struct {
	SessionID string `json:"session_id"`
}
