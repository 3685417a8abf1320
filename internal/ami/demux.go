package ami

import "github.com/axelmiami/callbridge/internal/config"

// AllowList reports whether an event kind is enabled in configuration.
type AllowList interface {
	EventEnabled(eventName string) bool
}

// Demux turns raw PBX Events into routable Dispatch values: it resolves
// the correlation id (spec.md §4.1 — the per-leg Uniqueid for the first
// NewChannel event of a call, the Linkedid for every subsequent event of
// that call) and drops events whose kind is unrecognized or disabled.
type Demux struct {
	allow AllowList
}

// NewDemux builds a Demux backed by the given configuration provider.
func NewDemux(cfg *config.Provider) *Demux {
	return &Demux{allow: cfg}
}

// Route converts one decoded AMI Event into a Dispatch. ok is false when
// the event should be dropped silently (unrecognized kind, disabled kind,
// or missing correlation header).
func (d *Demux) Route(ev Event) (Dispatch, bool) {
	kind := Kind(ev.Type)
	if _, known := recognized[kind]; !known {
		return Dispatch{}, false
	}
	if !d.allow.EventEnabled(string(kind)) {
		return Dispatch{}, false
	}

	var correlationID string
	if kind == KindNewChannel {
		correlationID = ev.Fields["Uniqueid"]
	} else {
		correlationID = ev.Fields["Linkedid"]
	}
	if correlationID == "" {
		return Dispatch{}, false
	}

	return Dispatch{Kind: kind, CorrelationID: correlationID, Headers: ev.Fields}, true
}
