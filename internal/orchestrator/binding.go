package orchestrator

import (
	"context"
	"log"
	"strings"

	"github.com/axelmiami/callbridge/internal/config"
	"github.com/axelmiami/callbridge/internal/crm"
)

// entityTypeIDs are Bitrix24's fixed CRM entity-type identifiers for
// crm.activity bindings (spec.md §4.7).
var entityTypeIDs = map[string]int{
	"lead":       1,
	"deal":       2,
	"contact":    3,
	"company":    4,
	"quote":      7,
	"requisite":  8,
	"invoice":    31,
}

// applyBindingPolicy binds the call's finished activity to every known
// entity that the configured per-kind policy (ALL/FILTERED/NONE) admits
// (spec.md §4.7). It is idempotent: entities already bound are left alone
// (P6), matching ListActivityBindings's role as the pre-check.
func (o *Orchestrator) applyBindingPolicy(ctx context.Context, c *CallState) {
	if c.CRMActivityID == "" {
		return
	}

	existing, err := o.crm.ListActivityBindings(ctx, c.CRMActivityID)
	if err != nil {
		log.Printf("[Orchestrator] %s: listing existing bindings failed: %v", c.CorrelationID, err)
		existing = nil
	}

	for kind, entities := range o.bindingCandidates(c) {
		typeID, ok := entityTypeIDs[kind]
		if !ok {
			continue
		}
		mode := o.cfg.BindingPolicy[kind]
		for _, e := range entities {
			if e.ID == "" {
				continue
			}
			wants := false
			switch mode {
			case config.BindingAll:
				wants = true
			case config.BindingFiltered:
				wants = o.entityMatchesQueueFilter(c, kind, e)
			case config.BindingNone:
				wants = false
			default:
				continue
			}
			bound := isBound(existing, typeID, e.ID)
			switch {
			case wants && !bound:
				if err := o.crm.AddBinding(ctx, c.CRMActivityID, typeID, e.ID); err != nil {
					log.Printf("[Orchestrator] %s: binding %s %s failed: %v", c.CorrelationID, kind, e.ID, err)
				}
			case !wants && bound:
				if err := o.crm.RemoveBinding(ctx, c.CRMActivityID, typeID, e.ID); err != nil {
					log.Printf("[Orchestrator] %s: unbinding %s %s failed: %v", c.CorrelationID, kind, e.ID, err)
				}
			}
		}
	}
}

// bindingCandidates assembles, per entity kind, the set of entities
// eligible for binding: everything prefetched at enrichment time, plus the
// call's own contact, plus a lead synthesized for one auto-created or
// newly-created lead id, appended to the lead list (spec.md §4.7).
func (o *Orchestrator) bindingCandidates(c *CallState) crm.EntitiesByKind {
	candidates := make(crm.EntitiesByKind, len(c.KnownEntities)+1)
	for kind, rows := range c.KnownEntities {
		candidates[kind] = append(candidates[kind], rows...)
	}

	if c.ContactID != "" {
		candidates["contact"] = append(candidates["contact"], crm.Entity{ID: c.ContactID})
	}

	leadID := c.NewlyCreatedLeadID
	if leadID == "" {
		for _, created := range c.CRMCreatedEntities {
			if strings.EqualFold(created.EntityType, "lead") {
				leadID = created.EntityID
				break
			}
		}
	}
	if leadID != "" {
		targetValue := ""
		if targets := o.cfg.QueueLeadTargets[c.QueueID]; len(targets) > 0 {
			targetValue = targets[0]
		}
		candidates["lead"] = append(candidates["lead"], crm.Entity{ID: leadID, TargetValue: targetValue})
	}

	return candidates
}

// entityMatchesQueueFilter reports whether e belongs to this queue's
// configured target set. Only lead and deal kinds carry a configured
// filter; every other kind matches unconditionally under FILTERED mode.
// A missing target value never matches (Q3): it is never indexed
// unconditionally just because the filter list is non-empty.
func (o *Orchestrator) entityMatchesQueueFilter(c *CallState, kind string, e crm.Entity) bool {
	switch kind {
	case "lead":
		return containsString(o.cfg.QueueLeadTargets[c.QueueID], e.TargetValue)
	case "deal":
		return containsString(o.cfg.QueueDealCategories[c.QueueID], e.TargetValue)
	default:
		return true
	}
}

func isBound(existing []crm.Binding, typeID int, entityID string) bool {
	for _, b := range existing {
		if b.EntityTypeID == typeID && b.EntityID == entityID {
			return true
		}
	}
	return false
}
