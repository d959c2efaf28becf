package recording

import "github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"

// EventKind names what happened to a question's recordings.
type EventKind string

const (
	EventCaptureStarted EventKind = "capture_started"
	EventCaptureStopped EventKind = "capture_stopped"
	EventTakeSelected   EventKind = "take_selected"
	EventTakeDeleted    EventKind = "take_deleted"
	EventRestored       EventKind = "restored"
	EventCleared        EventKind = "cleared"
)

// Event is emitted once per state change and consumed by the session
// controller. SelectedID is the question's selection after the change;
// empty means no take is selected.
type Event struct {
	Kind       EventKind    `json:"kind"`
	QuestionID string       `json:"question_id"`
	SelectedID string       `json:"selected_id,omitempty"`
	Takes      []model.Take `json:"takes"`
}

// queue holds events until the owner drains them. It is unbounded, so
// restoring or clearing many questions never blocks the caller.
type queue struct {
	pending []Event
}

func (q *queue) push(ev Event) { q.pending = append(q.pending, ev) }

func (q *queue) drain() []Event {
	out := q.pending
	q.pending = nil
	return out
}
