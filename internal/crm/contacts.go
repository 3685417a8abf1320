package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/axelmiami/callbridge/internal/config"
)

// leadTerminalStatuses are lead STATUS_ID values that no longer count as
// "open" for enrichment purposes (spec.md §4.3).
var leadTerminalStatuses = map[string]bool{"CONVERTED": true, "JUNK": true}

type contactRow struct {
	ID         string `json:"ID"`
	Name       string `json:"NAME"`
	LastName   string `json:"LAST_NAME"`
	SecondName string `json:"SECOND_NAME"`
}

// FindContactByPhone looks up contacts matching phone and returns the one
// with the most populated name fields, or nil when none match (spec.md
// §4.2, grounded on bitrix24_integration.py's find_contact_by_phone).
func (g *Gateway) FindContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	params := url.Values{}
	params.Set("filter[PHONE]", phone)
	params.Add("select[]", "ID")
	params.Add("select[]", "NAME")
	params.Add("select[]", "LAST_NAME")
	params.Add("select[]", "SECOND_NAME")

	raw, err := g.doRequest(ctx, http.MethodGet, "crm.contact.list", params)
	if err != nil {
		if _, ok := err.(*SemanticError); ok {
			return nil, nil // no matches is not an error condition
		}
		return nil, err
	}

	var rows []contactRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &TransportError{Endpoint: "crm.contact.list", Err: err}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	best := Contact{ID: rows[0].ID, Name: rows[0].Name, LastName: rows[0].LastName, SecondName: rows[0].SecondName}
	for _, r := range rows[1:] {
		c := Contact{ID: r.ID, Name: r.Name, LastName: r.LastName, SecondName: r.SecondName}
		if c.filledFields() > best.filledFields() {
			best = c
		}
	}
	return &best, nil
}

type entityRow struct {
	ID         string `json:"ID"`
	Title      string `json:"TITLE"`
	StatusID   string `json:"STATUS_ID"`
	CategoryID string `json:"CATEGORY_ID"`
	OrderTopic string `json:"ORDER_TOPIC"`
}

// GetEntitiesFor retrieves the active leads/deals/contacts/etc. associated
// with contactID and/or phone, one crm.<kind>.list request per entry in
// catalog. Deals are skipped unless contactID is set; leads in a terminal
// status are dropped from the result (spec.md §4.3, grounded on
// bitrix24_integration.py's get_entities_info).
func (g *Gateway) GetEntitiesFor(ctx context.Context, contactID, phone string, catalog map[string]config.EntityTypeEndpoint) (EntitiesByKind, error) {
	out := make(EntitiesByKind)

	for kind, endpoint := range catalog {
		if kind == "deal" && contactID == "" {
			continue
		}

		ufField := g.targetFieldFor(kind)
		params := url.Values{}
		params.Set("filter[ACTIVE]", "Y")
		params.Set("order[DATE_CREATE]", "DESC")
		params.Add("select[]", "ID")
		params.Add("select[]", "TITLE")
		params.Add("select[]", "STATUS_ID")
		params.Add("select[]", "CATEGORY_ID")
		params.Add("select[]", "ORDER_TOPIC")
		if ufField != "" {
			params.Add("select[]", ufField)
		}
		if contactID != "" {
			params.Set("filter[CONTACT_ID]", contactID)
		}
		if phone != "" {
			params.Set("filter[PHONE]", phone)
		}
		if kind == "deal" {
			params.Set("filter[CLOSED]", "N")
		}
		if kind == "lead" {
			params.Add("filter[!STATUS_ID][]", "CONVERTED")
			params.Add("filter[!STATUS_ID][]", "JUNK")
		}

		raw, err := g.doRequest(ctx, http.MethodGet, endpoint.Request, params)
		if err != nil {
			if _, ok := err.(*SemanticError); ok {
				continue // no entities of this kind; not an error
			}
			return nil, err
		}

		var rawRows []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &rawRows); err != nil {
			return nil, &TransportError{Endpoint: endpoint.Request, Err: err}
		}

		entities := make([]Entity, 0, len(rawRows))
		for _, rr := range rawRows {
			var row entityRow
			if b, ok := rr["ID"]; ok {
				row.ID = unquoteOrRaw(b)
			}
			if b, ok := rr["TITLE"]; ok {
				row.Title = unquoteOrRaw(b)
			}
			if b, ok := rr["STATUS_ID"]; ok {
				row.StatusID = unquoteOrRaw(b)
			}
			if b, ok := rr["CATEGORY_ID"]; ok {
				row.CategoryID = unquoteOrRaw(b)
			}
			if b, ok := rr["ORDER_TOPIC"]; ok {
				row.OrderTopic = unquoteOrRaw(b)
			}
			if kind == "lead" && leadTerminalStatuses[row.StatusID] {
				continue
			}
			e := Entity{ID: row.ID, Title: row.Title, StatusID: row.StatusID, CategoryID: row.CategoryID, OrderTopic: row.OrderTopic}
			if ufField != "" {
				if b, ok := rr[ufField]; ok {
					e.TargetValue = unquoteOrRaw(b)
				}
			}
			entities = append(entities, e)
		}

		if len(entities) > 0 {
			out[kind] = entities
		}
	}

	return out, nil
}

// targetFieldFor returns the configured custom-field id used to filter an
// entity kind by queue direction, or "" for kinds with no such field.
func (g *Gateway) targetFieldFor(kind string) string {
	switch kind {
	case "lead":
		return g.leadUFField
	case "deal":
		return g.dealUFField
	default:
		return ""
	}
}

// unquoteOrRaw strips JSON string quoting if present, else returns the raw
// bytes as-is; Bitrix24 returns most scalar fields as strings but some
// custom fields can come back unquoted.
func unquoteOrRaw(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
