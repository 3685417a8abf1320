package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// LookupUserByInternalExt resolves a PBX internal extension to a Bitrix24
// user id via the UF_PHONE_INNER custom field (user.get), returning "" when
// no user has that extension configured (spec.md §4.2, grounded on
// _get_user_id_by_internal_number).
func (g *Gateway) LookupUserByInternalExt(ctx context.Context, ext string) (string, error) {
	params := url.Values{"filter[UF_PHONE_INNER]": {ext}}
	raw, err := g.doRequest(ctx, http.MethodGet, "user.get", params)
	if err != nil {
		if _, ok := err.(*SemanticError); ok {
			return "", nil
		}
		return "", err
	}

	var rows []struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return "", &TransportError{Endpoint: "user.get", Err: err}
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].ID, nil
}
