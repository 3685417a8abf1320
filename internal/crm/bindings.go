package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ListActivityBindings returns the entities an activity is currently
// attached to (crm.activity.binding.list).
func (g *Gateway) ListActivityBindings(ctx context.Context, activityID string) ([]Binding, error) {
	params := url.Values{"activityId": {activityID}}
	raw, err := g.doRequest(ctx, http.MethodGet, "crm.activity.binding.list", params)
	if err != nil {
		if _, ok := err.(*SemanticError); ok {
			return nil, nil
		}
		return nil, err
	}

	var rows []struct {
		EntityTypeID int    `json:"entityTypeId"`
		EntityID     string `json:"entityId"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &TransportError{Endpoint: "crm.activity.binding.list", Err: err}
	}
	out := make([]Binding, len(rows))
	for i, r := range rows {
		out[i] = Binding{EntityTypeID: r.EntityTypeID, EntityID: r.EntityID}
	}
	return out, nil
}

// AddBinding attaches an activity to an entity (crm.activity.binding.add).
func (g *Gateway) AddBinding(ctx context.Context, activityID string, entityTypeID int, entityID string) error {
	form := url.Values{
		"activityId":   {activityID},
		"entityTypeId": {strconv.Itoa(entityTypeID)},
		"entityId":     {entityID},
	}
	_, err := g.doRequest(ctx, http.MethodPost, "crm.activity.binding.add", form)
	return err
}

// RemoveBinding detaches an activity from an entity
// (crm.activity.binding.delete).
func (g *Gateway) RemoveBinding(ctx context.Context, activityID string, entityTypeID int, entityID string) error {
	form := url.Values{
		"activityId":   {activityID},
		"entityTypeId": {strconv.Itoa(entityTypeID)},
		"entityId":     {entityID},
	}
	_, err := g.doRequest(ctx, http.MethodPost, "crm.activity.binding.delete", form)
	return err
}

// UpdateActivity sets the given fields on an activity (crm.activity.update),
// used to flip COMPLETED to "Y" once the recording has been attached.
func (g *Gateway) UpdateActivity(ctx context.Context, activityID string, fields map[string]string) error {
	form := url.Values{"id": {activityID}}
	for k, v := range fields {
		form.Set(fmt.Sprintf("fields[%s]", k), v)
	}
	_, err := g.doRequest(ctx, http.MethodPost, "crm.activity.update", form)
	return err
}
