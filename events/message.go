package events

import (
	"encoding/json"
	"time"

	"github.com/warp/club-ledger/contribution"
)

// GenerationEvent is the message published after every generation pass.
type GenerationEvent struct {
	PassID        string    `json:"pass_id"`
	Population    string    `json:"population"`
	Period        string    `json:"period"`
	Trigger       string    `json:"trigger"`
	Outcome       string    `json:"outcome"`
	Created       int       `json:"created"`
	ExpectedTotal string    `json:"expected_total"`
	SkipReason    string    `json:"skip_reason,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewGenerationEvent builds the event describing a completed pass.
func NewGenerationEvent(pass contribution.Pass) *GenerationEvent {
	ev := &GenerationEvent{
		PassID:        pass.ID,
		Population:    pass.Result.Population.String(),
		Period:        pass.Result.Period.String(),
		Trigger:       string(pass.Trigger),
		Outcome:       pass.Outcome(),
		Created:       pass.Result.Created,
		ExpectedTotal: pass.Result.ExpectedTotal.String(),
		SkipReason:    string(pass.Result.Skipped),
		StartedAt:     pass.StartedAt,
		FinishedAt:    pass.FinishedAt,
		Timestamp:     time.Now().UTC(),
	}
	if pass.Err != nil {
		ev.Error = pass.Err.Error()
	}
	return ev
}

// ToJSON converts the event to JSON bytes
func (e *GenerationEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// GenerationEventFromJSON decodes an event from JSON bytes
func GenerationEventFromJSON(data []byte) (*GenerationEvent, error) {
	var ev GenerationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
