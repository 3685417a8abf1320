package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/axelmiami/callbridge/internal/ami"
	"github.com/axelmiami/callbridge/internal/crm"
)

// handleNewChannel creates the call's NEW record and drives it to
// ENRICHED: contact lookup, related-entity prefetch, and the
// CALLERID(name) rewrite (spec.md §4.3).
func (o *Orchestrator) handleNewChannel(ctx context.Context, c *CallState, d ami.Dispatch) {
	c.CallerNumber = d.Headers["CallerIDNum"]
	c.DialedExtension = d.Headers["Exten"]
	c.Channel = d.Headers["Channel"]
	c.Direction = DirectionInbound
	c.StartedAt = time.Now()
	c.Status = StatusNew

	contact, err := o.crm.FindContactByPhone(ctx, c.CallerNumber)
	if err != nil {
		log.Printf("[Orchestrator] %s: contact lookup failed: %v", c.CorrelationID, err)
		contact = nil
	}

	fullName := c.CallerNumber
	if contact != nil {
		c.ContactID = contact.ID
		if name := contact.FullName(); name != "" {
			fullName = name
		}
	}
	c.ContactDisplayName = fullName

	entities, err := o.crm.GetEntitiesFor(ctx, c.ContactID, c.CallerNumber, o.cfg.EntityTypes)
	if err != nil {
		log.Printf("[Orchestrator] %s: entity prefetch failed: %v", c.CorrelationID, err)
	} else {
		c.KnownEntities = entities
	}

	callerIDName := fullName
	if summary := o.formatEntitiesSummary(c.KnownEntities); summary != "" {
		callerIDName = fmt.Sprintf("%s (%s)", fullName, summary)
	}

	if c.Channel != "" {
		if err := o.pbx.SetVariable(c.Channel, "CALLERID(name)", callerIDName, o.actionTimeout); err != nil {
			log.Printf("[Orchestrator] %s: CALLERID(name) rewrite failed: %v", c.CorrelationID, err)
		}
	}

	c.Status = StatusEnriched
}

// formatEntitiesSummary renders known entities as "<label> - <n>, ..." in
// stable kind order, matching format_entities_info/get_entity_type_name.
func (o *Orchestrator) formatEntitiesSummary(entities crm.EntitiesByKind) string {
	if len(entities) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(entities))
	for kind, rows := range entities {
		if len(rows) > 0 {
			kinds = append(kinds, kind)
		}
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, fmt.Sprintf("%s - %d", o.cfg.EntityTypeLabel(kind), len(entities[kind])))
	}
	return strings.Join(parts, ", ")
}
