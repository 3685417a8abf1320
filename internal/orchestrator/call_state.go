package orchestrator

import (
	"time"

	"github.com/axelmiami/callbridge/internal/crm"
)

// Status is a call's position in the lifecycle state machine (spec.md §4.5).
type Status string

const (
	StatusNew        Status = "NEW"
	StatusEnriched   Status = "ENRICHED"
	StatusQueued     Status = "QUEUED"
	StatusRinging    Status = "RINGING"
	StatusAnswered   Status = "ANSWERED"
	StatusUnanswered Status = "UNANSWERED"
	StatusHungup     Status = "HUNGUP"
	StatusFinalized  Status = "FINALIZED"
)

// Direction is the call's originating direction, mapped to Bitrix24's
// numeric telephony call-type constant by directionCode.
type Direction string

const (
	DirectionInbound               Direction = "inbound"
	DirectionOutbound              Direction = "outbound"
	DirectionInboundWithForwarding Direction = "inbound_with_forwarding"
	DirectionCallback              Direction = "callback"
)

// directionCode maps a Direction to the CRM's TYPE constant for
// telephony.externalcall.register (spec.md §4.4 step 2).
func directionCode(d Direction) int {
	switch d {
	case DirectionOutbound:
		return 1
	case DirectionInbound:
		return 2
	case DirectionInboundWithForwarding, DirectionCallback:
		return 3
	default:
		return 2
	}
}

// directionLabel is the human call-type name used in auto-created lead
// titles and source descriptions (spec.md §8 scenario 1).
func directionLabel(d Direction) string {
	switch d {
	case DirectionOutbound:
		return "Outbound call"
	case DirectionInbound:
		return "Incoming call"
	case DirectionInboundWithForwarding:
		return "Inbound call with forwarding"
	case DirectionCallback:
		return "Callback"
	default:
		return "Incoming call"
	}
}

// DialAttempt is one entry in a call's per-agent dial timeline.
type DialAttempt struct {
	At     time.Time
	Status string
}

// CallState is the single live record for one call. Every field is owned
// by the one worker goroutine servicing this call's correlation id
// (internal/orchestrator/orchestrator.go); no internal locking is needed.
type CallState struct {
	CorrelationID   string
	Direction       Direction
	CallerNumber    string
	DialedExtension string
	Channel         string

	ContactID          string
	ContactDisplayName string
	KnownEntities      crm.EntitiesByKind
	NewlyCreatedLeadID string

	QueueID   string
	QueueName string

	// DialAttempts is keyed by internal extension; it folds the source
	// prototype's separate used_agents/available_agents maps into one
	// timeline per spec.md §3 (dialAttempts field).
	DialAttempts map[string][]DialAttempt
	// PopupOpened lists, in notification order, every agent extension a
	// CRM call-window popup was opened for and not yet closed.
	PopupOpened []string

	AcceptedBy   string
	UserIDByExt  map[string]string

	CRMCallID          string
	CRMCreatedEntities []crm.CreatedEntity
	CRMActivityID      string

	StartedAt  time.Time
	AnsweredAt time.Time
	EndedAt    time.Time

	RecordingRawPath     string
	RecordingEncodedPath string

	EndCause      string
	EndCauseText  string
	EndReason     string

	timeRule  string
	timeGroup string
	ivrChoice string

	Status Status
}

// newCallState creates a NEW call record for correlationID (spec.md §3
// Lifecycle: "Create on NewChannel (allowed source)").
func newCallState(correlationID string) *CallState {
	return &CallState{
		CorrelationID: correlationID,
		DialAttempts:  make(map[string][]DialAttempt),
		UserIDByExt:   make(map[string]string),
		Status:        StatusNew,
	}
}

// recordDialAttempt appends one dial-timeline entry for ext.
func (c *CallState) recordDialAttempt(ext, status string, at time.Time) {
	c.DialAttempts[ext] = append(c.DialAttempts[ext], DialAttempt{At: at, Status: status})
}

// notePopupOpened records that ext was shown a call-window popup, unless
// it already was.
func (c *CallState) notePopupOpened(ext string) {
	for _, e := range c.PopupOpened {
		if e == ext {
			return
		}
	}
	c.PopupOpened = append(c.PopupOpened, ext)
}

// stampAnswer records which agent accepted the call (spec.md invariant I2:
// answeredAt implies acceptedBy and vice versa).
func (c *CallState) stampAnswer(ext string, at time.Time) {
	c.AcceptedBy = ext
	c.AnsweredAt = at
	c.Status = StatusAnswered
}

// stampHangup records the PBX-reported end cause.
func (c *CallState) stampHangup(cause, causeText string, at time.Time) {
	c.EndedAt = at
	c.EndCause = cause
	c.EndCauseText = causeText
	c.Status = StatusHungup
}

// Duration is the whole-call wall-clock length (spec.md P7).
func (c *CallState) Duration() time.Duration {
	if c.StartedAt.IsZero() || c.EndedAt.IsZero() {
		return 0
	}
	return c.EndedAt.Sub(c.StartedAt)
}

// AnswerDuration is the answered-segment length, 0 when never answered
// (spec.md P7).
func (c *CallState) AnswerDuration() time.Duration {
	if c.AnsweredAt.IsZero() || c.EndedAt.IsZero() {
		return 0
	}
	return c.EndedAt.Sub(c.AnsweredAt)
}

// wasAnswered reports whether an agent accepted the call.
func (c *CallState) wasAnswered() bool {
	return c.AcceptedBy != ""
}
