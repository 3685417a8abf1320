package ami

import (
	"testing"

	"github.com/axelmiami/callbridge/internal/config"
)

func allowOnly(kinds ...string) *config.Provider {
	p := &config.Provider{EventHandling: make(map[string]bool)}
	for _, k := range kinds {
		p.EventHandling[k] = true
	}
	return p
}

func TestRouteUsesUniqueidForNewChannel(t *testing.T) {
	d := NewDemux(allowOnly("Newchannel"))
	ev := Event{Type: "Newchannel", Fields: map[string]string{"Uniqueid": "111.1", "Linkedid": "111.1"}}

	dispatch, ok := d.Route(ev)
	if !ok {
		t.Fatal("Route: expected ok=true")
	}
	if dispatch.CorrelationID != "111.1" {
		t.Errorf("CorrelationID = %q, want 111.1", dispatch.CorrelationID)
	}
	if dispatch.Kind != KindNewChannel {
		t.Errorf("Kind = %q, want %q", dispatch.Kind, KindNewChannel)
	}
}

func TestRouteUsesLinkedidForSubsequentEvents(t *testing.T) {
	d := NewDemux(allowOnly("DialBegin"))
	ev := Event{Type: "DialBegin", Fields: map[string]string{"Uniqueid": "111.2", "Linkedid": "111.1"}}

	dispatch, ok := d.Route(ev)
	if !ok {
		t.Fatal("Route: expected ok=true")
	}
	if dispatch.CorrelationID != "111.1" {
		t.Errorf("CorrelationID = %q, want 111.1 (the Linkedid)", dispatch.CorrelationID)
	}
}

func TestRouteDropsDisabledKind(t *testing.T) {
	d := NewDemux(allowOnly("Newchannel"))
	ev := Event{Type: "DialBegin", Fields: map[string]string{"Uniqueid": "1", "Linkedid": "1"}}

	if _, ok := d.Route(ev); ok {
		t.Fatal("Route: expected ok=false for a disabled event kind")
	}
}

func TestRouteDropsUnrecognizedKind(t *testing.T) {
	d := NewDemux(allowOnly())
	ev := Event{Type: "PeerStatus", Fields: map[string]string{"Uniqueid": "1", "Linkedid": "1"}}

	if _, ok := d.Route(ev); ok {
		t.Fatal("Route: expected ok=false for an unrecognized event kind")
	}
}

func TestRouteDropsMissingCorrelationID(t *testing.T) {
	d := NewDemux(allowOnly("Newchannel"))
	ev := Event{Type: "Newchannel", Fields: map[string]string{}}

	if _, ok := d.Route(ev); ok {
		t.Fatal("Route: expected ok=false when Uniqueid is missing")
	}
}
