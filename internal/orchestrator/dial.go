package orchestrator

import (
	"context"
	"log"
	"regexp"
	"time"

	"github.com/axelmiami/callbridge/internal/ami"
)

// agentInterfaceRE extracts an agent's internal extension from a queue
// member interface string like "Local/201@from-queue/n" (spec.md §4.5
// AgentConnect, grounded on incoming_call_handler.py's regex).
var agentInterfaceRE = regexp.MustCompile(`Local/(\d+)@from-queue/n`)

// handleDialBegin distinguishes the routing leg from a real ringing leg by
// comparing the per-leg and linked-call ids (spec.md §4.5 DialBegin,
// Q2). A real ringing leg gets a CRM call-window popup.
func (o *Orchestrator) handleDialBegin(ctx context.Context, c *CallState, d ami.Dispatch) {
	uniqueID := d.Headers["Uniqueid"]
	linkedID := d.Headers["Linkedid"]
	destExten := d.Headers["DestExten"]
	destCallerIDNum := d.Headers["DestCallerIDNum"]

	switch {
	case uniqueID == linkedID && destExten != "":
		c.recordDialAttempt(destExten, "used", time.Now())
	case destCallerIDNum != "":
		c.recordDialAttempt(destCallerIDNum, "ringing", time.Now())
		o.openPopup(ctx, c, destCallerIDNum)
	default:
		log.Printf("[Orchestrator] %s: DialBegin with no resolvable agent extension", c.CorrelationID)
	}

	c.Status = StatusRinging
}

// openPopup resolves ext's CRM user id (caching it on the call) and opens
// a call-window popup for it.
func (o *Orchestrator) openPopup(ctx context.Context, c *CallState, ext string) {
	userID, err := o.resolveUserID(ctx, c, ext)
	if err != nil {
		log.Printf("[Orchestrator] %s: resolving CRM user for extension %s failed: %v", c.CorrelationID, ext, err)
		return
	}
	if userID == "" {
		log.Printf("[Orchestrator] %s: no CRM user configured for extension %s", c.CorrelationID, ext)
		return
	}
	if err := o.crm.ShowCallWindow(ctx, c.CRMCallID, userID); err != nil {
		log.Printf("[Orchestrator] %s: opening call window for %s failed: %v", c.CorrelationID, ext, err)
		return
	}
	c.notePopupOpened(ext)
}

// resolveUserID reads the call-scoped cache before hitting the CRM
// (spec.md §5 "the per-call userIdByExt cache").
func (o *Orchestrator) resolveUserID(ctx context.Context, c *CallState, ext string) (string, error) {
	if id, ok := c.UserIDByExt[ext]; ok {
		return id, nil
	}
	id, err := o.crm.LookupUserByInternalExt(ctx, ext)
	if err != nil {
		return "", err
	}
	if id != "" {
		c.UserIDByExt[ext] = id
	}
	return id, nil
}

// handleDialEnd records the terminal dial status for a ringing agent leg
// (spec.md §4.5 DialEnd).
func (o *Orchestrator) handleDialEnd(c *CallState, d ami.Dispatch) {
	destCallerIDNum := d.Headers["DestCallerIDNum"]
	dialStatus := d.Headers["DialStatus"]
	if destCallerIDNum == "" || destCallerIDNum == c.DialedExtension {
		return
	}
	c.recordDialAttempt(destCallerIDNum, dialStatus, time.Now())
}

// handleAgentConnect closes every other notified agent's popup, stamps the
// accepting agent, and transitions to ANSWERED (spec.md §4.5 AgentConnect).
func (o *Orchestrator) handleAgentConnect(ctx context.Context, c *CallState, d ami.Dispatch) {
	agentExt := ""
	if m := agentInterfaceRE.FindStringSubmatch(d.Headers["Interface"]); m != nil {
		agentExt = m[1]
	}

	o.closeOtherPopups(ctx, c, agentExt)

	c.recordDialAttempt(agentExt, "connected", time.Now())
	c.stampAnswer(agentExt, time.Now())
}

// closeOtherPopups hides the CRM call-window popup for every notified
// agent except acceptedExt (spec.md §8 scenario 4).
func (o *Orchestrator) closeOtherPopups(ctx context.Context, c *CallState, acceptedExt string) {
	remaining := c.PopupOpened[:0]
	for _, ext := range c.PopupOpened {
		if ext == acceptedExt && acceptedExt != "" {
			remaining = append(remaining, ext)
			continue
		}
		userID := c.UserIDByExt[ext]
		if userID == "" {
			continue
		}
		if err := o.crm.HideCallWindow(ctx, c.CRMCallID, userID); err != nil {
			log.Printf("[Orchestrator] %s: hiding call window for %s failed: %v", c.CorrelationID, ext, err)
		}
	}
	c.PopupOpened = remaining
}

// handleAgentComplete records the queue-member completion reason (spec.md
// §4.5 AgentComplete).
func (o *Orchestrator) handleAgentComplete(c *CallState, d ami.Dispatch) {
	c.EndReason = d.Headers["Reason"]
}

// handleVarSet watches for the recording filename variable (spec.md §4.5
// VarSet).
func (o *Orchestrator) handleVarSet(c *CallState, d ami.Dispatch) {
	if d.Headers["Variable"] == "MIXMONITOR_FILENAME" {
		c.RecordingRawPath = d.Headers["Value"]
	}
}
