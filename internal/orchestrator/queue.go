package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/axelmiami/callbridge/internal/ami"
	"github.com/axelmiami/callbridge/internal/crm"
)

// handleQueueJoin registers the call with the CRM and, when needed, creates
// or re-titles a lead for the queue's direction (spec.md §4.4).
func (o *Orchestrator) handleQueueJoin(ctx context.Context, c *CallState, d ami.Dispatch) {
	queueID := d.Headers["Queue"]
	if queueID == "" {
		log.Printf("[Orchestrator] %s: QueueCallerJoin missing Queue header", c.CorrelationID)
		return
	}
	c.QueueID = queueID
	c.QueueName = o.cfg.QueueLabel(queueID)

	hadPriorEntities := hasAnyEntities(c.KnownEntities)

	reg, err := o.crm.RegisterCall(ctx, o.crm.CallAdminID(), c.CallerNumber, directionCode(c.Direction), c.DialedExtension)
	if err != nil {
		log.Printf("[Orchestrator] %s: register_call failed: %v", c.CorrelationID, err)
		c.Status = StatusQueued
		return
	}
	c.CRMCallID = reg.CallID
	c.CRMCreatedEntities = reg.CreatedEntities

	targetIDs := o.cfg.QueueLeadTargets[queueID]
	var targetID string
	if len(targetIDs) > 0 {
		targetID = targetIDs[0]
	}

	autoCreatedLead := ""
	if reg.CRMCreatedLead != "" && len(reg.CreatedEntities) > 0 &&
		reg.CreatedEntities[0].EntityID == reg.CRMCreatedLead &&
		strings.EqualFold(reg.CreatedEntities[0].EntityType, "lead") {
		autoCreatedLead = reg.CRMCreatedLead
	}

	if autoCreatedLead != "" {
		if !hadPriorEntities {
			o.renameLeadForQueue(ctx, c, autoCreatedLead, targetID)
		}
	} else {
		o.createLeadIfMissing(ctx, c, targetID)
	}

	c.Status = StatusQueued
}

func hasAnyEntities(entities crm.EntitiesByKind) bool {
	for _, rows := range entities {
		if len(rows) > 0 {
			return true
		}
	}
	return false
}

// renameLeadForQueue prefixes a freshly CRM-auto-created lead's title with
// the queue's label and stamps its target custom field (spec.md §4.4 step
// 4, grounded on _change_lead_title).
func (o *Orchestrator) renameLeadForQueue(ctx context.Context, c *CallState, leadID, targetID string) {
	lead, err := o.crm.GetLead(ctx, leadID)
	if err != nil {
		log.Printf("[Orchestrator] %s: fetching auto-created lead %s failed: %v", c.CorrelationID, leadID, err)
		return
	}
	fields := map[string]string{"TITLE": fmt.Sprintf("%s - %s", c.QueueName, lead.Title)}
	if o.cfg.Bitrix24FieldFor("lead") != "" && targetID != "" {
		fields[o.cfg.Bitrix24FieldFor("lead")] = targetID
	}
	if err := o.crm.UpdateLead(ctx, leadID, fields); err != nil {
		log.Printf("[Orchestrator] %s: renaming lead %s failed: %v", c.CorrelationID, leadID, err)
	}
}

// createLeadIfMissing creates a new lead for this queue's direction unless
// an existing lead or deal already covers it (spec.md §4.4 step 5,
// grounded on b24call_registration's else branch).
func (o *Orchestrator) createLeadIfMissing(ctx context.Context, c *CallState, targetID string) {
	if o.entityAlreadyCoversQueue(c) {
		return
	}

	fields := map[string]string{
		"TITLE":              fmt.Sprintf("%s - %s - %s", c.QueueName, c.ContactDisplayName, directionLabel(c.Direction)),
		"PHONE":              c.CallerNumber,
		"SOURCE_ID":          "CALL",
		"SOURCE_DESCRIPTION": fmt.Sprintf("%s to number %s", directionLabel(c.Direction), c.DialedExtension),
	}
	if leadField := o.cfg.Bitrix24FieldFor("lead"); leadField != "" && targetID != "" {
		fields[leadField] = targetID
	}
	if c.ContactID != "" && c.ContactDisplayName != c.CallerNumber {
		fields["CONTACT_ID"] = c.ContactID
	}

	leadID, err := o.crm.CreateLead(ctx, fields)
	if err != nil {
		log.Printf("[Orchestrator] %s: creating lead failed: %v", c.CorrelationID, err)
		return
	}
	c.NewlyCreatedLeadID = leadID
}

// entityAlreadyCoversQueue reports whether a known lead or deal already
// matches this queue's configured targets, in which case no new lead is
// created.
func (o *Orchestrator) entityAlreadyCoversQueue(c *CallState) bool {
	leadTargets := o.cfg.QueueLeadTargets[c.QueueID]
	for _, lead := range c.KnownEntities["lead"] {
		if containsString(leadTargets, lead.TargetValue) {
			return true
		}
	}
	dealCategories := o.cfg.QueueDealCategories[c.QueueID]
	for _, deal := range c.KnownEntities["deal"] {
		if containsString(dealCategories, deal.TargetValue) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
