package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/axelmiami/callbridge/internal/ami"
)

// handleHangup runs the call's entire finalization sequence (spec.md
// §4.6): stamp the end cause, transcode the recording, close any
// remaining popups, finish the CRM call, apply the binding policy, attach
// the recording, and mark the call FINALIZED so its worker retires.
// No step's failure aborts the ones after it (spec.md §7 K1-K4).
// Only the Hangup whose per-leg id matches the call's own correlation id
// finalizes (spec.md §4.6 "Hangup (matching id)"); a child leg's Hangup is
// a K3 guard violation, logged and dropped.
func (o *Orchestrator) handleHangup(ctx context.Context, c *CallState, d ami.Dispatch) {
	if d.Headers["Uniqueid"] != c.CorrelationID {
		log.Printf("[Orchestrator] %s: Hangup for leg %s ignored (not the call's own leg)", c.CorrelationID, d.Headers["Uniqueid"])
		return
	}

	c.stampHangup(d.Headers["Cause"], d.Headers["Cause-txt"], time.Now())
	if !c.wasAnswered() {
		c.Status = StatusUnanswered
	}

	if c.RecordingRawPath != "" {
		encoded, err := o.audio.Encode(c.RecordingRawPath)
		if err != nil {
			log.Printf("[Orchestrator] %s: transcoding recording failed: %v", c.CorrelationID, err)
		} else {
			c.RecordingEncodedPath = encoded
		}
	}

	o.closeOtherPopups(ctx, c, "")

	userID := o.crm.CallAdminID()
	if c.AcceptedBy != "" {
		if id, ok := c.UserIDByExt[c.AcceptedBy]; ok && id != "" {
			userID = id
		}
	}

	if c.CRMCallID != "" {
		fin, err := o.crm.FinishCall(ctx, c.CRMCallID, userID, int(c.Duration().Seconds()))
		if err != nil {
			log.Printf("[Orchestrator] %s: finish_call failed: %v", c.CorrelationID, err)
		} else if fin != nil {
			c.CRMActivityID = fin.ActivityID
		}
	}

	o.applyBindingPolicy(ctx, c)

	if c.CRMCallID != "" && c.RecordingEncodedPath != "" {
		if err := o.crm.AttachRecording(ctx, c.CRMCallID, c.RecordingEncodedPath); err != nil {
			log.Printf("[Orchestrator] %s: attaching recording failed: %v", c.CorrelationID, err)
		} else if c.CRMActivityID != "" {
			if err := o.crm.UpdateActivity(ctx, c.CRMActivityID, map[string]string{"COMPLETED": "Y"}); err != nil {
				log.Printf("[Orchestrator] %s: marking activity completed failed: %v", c.CorrelationID, err)
			}
		}
	}

	c.Status = StatusFinalized
}
