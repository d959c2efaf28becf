package websocket

import (
	"encoding/json"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/response"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionLoad           Action = "load"
	ActionView           Action = "view"
	ActionSetAnswer      Action = "set_answer"
	ActionNavigate       Action = "navigate"
	ActionStartCapture   Action = "start_capture"
	ActionStopCapture    Action = "stop_capture"
	ActionSelectTake     Action = "select_take"
	ActionDeleteTake     Action = "delete_take"
	ActionTakePlayback   Action = "take_playback"
	ActionTogglePlayback Action = "toggle_playback"
	ActionPlaybackEnded  Action = "playback_ended"
	ActionAutosave       Action = "autosave"
	ActionSubmit         Action = "submit"
	ActionExit           Action = "exit"
	ActionPing           Action = "ping"
)

// Request is a client message. Audio is not carried here: while a capture
// is running the client streams it as binary frames.
type Request struct {
	Action     Action          `json:"action"`
	QuestionID string          `json:"question_id,omitempty"`
	TakeID     string          `json:"take_id,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	Index      *int            `json:"index,omitempty"`
	Resource   string          `json:"resource,omitempty"`
	// DeviceReady reports whether the browser was granted microphone access.
	DeviceReady bool `json:"device_ready,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventView   Event = "view"
	EventAck    Event = "ack"
	EventHandle Event = "handle"
	EventError  Event = "error"
	EventPong   Event = "pong"
)

// UpdateResponse forwards one controller update. Its event is the update kind.
type UpdateResponse struct {
	Event Event `json:"event"`
	session.Update
}

type ViewResponse struct {
	Event Event        `json:"event"`
	View  session.View `json:"view"`
}

type AckResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action"`
}

// HandleResponse carries a playback handle for a take. URL serves the audio.
type HandleResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
	TakeID     string `json:"take_id"`
	Handle     string `json:"handle"`
	URL        string `json:"url"`
}

type ErrorResponse struct {
	Event     Event            `json:"event"`
	Action    Action           `json:"action,omitempty"`
	Code      response.ErrCode `json:"code"`
	Error     string           `json:"error"`
	Retryable bool             `json:"retryable,omitempty"`
	Missing   []string         `json:"missing,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
