package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// GetLead fetches a lead's ID and title (crm.lead.get), used when renaming
// a lead title to prefix the queue direction (spec.md §4.9).
func (g *Gateway) GetLead(ctx context.Context, leadID string) (*Lead, error) {
	params := url.Values{"id": {leadID}}
	raw, err := g.doRequest(ctx, http.MethodGet, "crm.lead.get", params)
	if err != nil {
		return nil, err
	}
	var resp struct {
		ID    string `json:"ID"`
		Title string `json:"TITLE"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransportError{Endpoint: "crm.lead.get", Err: err}
	}
	return &Lead{ID: resp.ID, Title: resp.Title}, nil
}

// UpdateLead sets the given fields on a lead (crm.lead.update).
func (g *Gateway) UpdateLead(ctx context.Context, leadID string, fields map[string]string) error {
	form := url.Values{"id": {leadID}}
	for k, v := range fields {
		form.Set(fmt.Sprintf("fields[%s]", k), v)
	}
	_, err := g.doRequest(ctx, http.MethodPost, "crm.lead.update", form)
	return err
}

var requiredLeadFields = []string{"TITLE", "PHONE", "SOURCE_ID", "SOURCE_DESCRIPTION"}

// CreateLead creates a new lead (crm.lead.add). fields must include
// TITLE, PHONE, SOURCE_ID and SOURCE_DESCRIPTION; any other key (e.g.
// CONTACT_ID, or the configured lead-target custom field) is passed
// through verbatim. PHONE is encoded as a multi-value MOBILE entry the way
// Bitrix24 expects (spec.md §4.2, grounded on _create_lead).
func (g *Gateway) CreateLead(ctx context.Context, fields map[string]string) (string, error) {
	for _, req := range requiredLeadFields {
		if fields[req] == "" {
			return "", fmt.Errorf("crm: create lead: missing required field %s", req)
		}
	}

	form := url.Values{"fields[STATUS_ID]": {"NEW"}}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if k == "PHONE" {
			form.Set("fields[PHONE][][VALUE]", v)
			form.Set("fields[PHONE][][VALUE_TYPE]", "MOBILE")
			continue
		}
		form.Set(fmt.Sprintf("fields[%s]", k), v)
	}

	raw, err := g.doRequest(ctx, http.MethodPost, "crm.lead.add", form)
	if err != nil {
		return "", err
	}
	return decodeID(raw)
}

// decodeID unmarshals a Bitrix24 "result" payload that is a bare scalar id,
// which may arrive as either a JSON string or a JSON number.
func decodeID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("crm: unexpected id payload: %s", string(raw))
}
