package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
)

// RegisterCall opens a telephony call record on behalf of userID. typeCode
// is the Bitrix24 call-type constant (1 outbound, 2 inbound, 3 inbound with
// forwarding or callback); the mapping is an orchestrator concern (spec.md
// §4.2, grounded on b24call_registration's telephony.externalcall.register
// request).
func (g *Gateway) RegisterCall(ctx context.Context, userID, phoneNumber string, typeCode int, lineNumber string) (*RegisterResult, error) {
	form := url.Values{
		"USER_ID":      {userID},
		"PHONE_NUMBER": {phoneNumber},
		"TYPE":         {strconv.Itoa(typeCode)},
		"CRM_CREATE":   {"1"},
		"SHOW":         {"0"},
		"LINE_NUMBER":  {lineNumber},
	}

	raw, err := g.doRequest(ctx, http.MethodPost, "telephony.externalcall.register", form)
	if err != nil {
		return nil, err
	}

	var resp struct {
		CallID            string `json:"CALL_ID"`
		CRMCreatedLead    string `json:"CRM_CREATED_LEAD"`
		CRMCreatedEntities []struct {
			EntityType string `json:"ENTITY_TYPE"`
			EntityID   string `json:"ENTITY_ID"`
		} `json:"CRM_CREATED_ENTITIES"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransportError{Endpoint: "telephony.externalcall.register", Err: err}
	}
	if resp.CallID == "" {
		return nil, &SemanticError{Endpoint: "telephony.externalcall.register", Description: "response carried no CALL_ID"}
	}

	result := &RegisterResult{CallID: resp.CallID, CRMCreatedLead: resp.CRMCreatedLead}
	for _, e := range resp.CRMCreatedEntities {
		result.CreatedEntities = append(result.CreatedEntities, CreatedEntity{EntityType: e.EntityType, EntityID: e.EntityID})
	}
	return result, nil
}

// ShowCallWindow opens the live call notification window for userID
// (telephony.externalcall.show).
func (g *Gateway) ShowCallWindow(ctx context.Context, callID, userID string) error {
	form := url.Values{"CALL_ID": {callID}, "USER_ID": {userID}}
	_, err := g.doRequest(ctx, http.MethodPost, "telephony.externalcall.show", form)
	return err
}

// HideCallWindow closes the live call notification window for userID
// (telephony.externalcall.hide), used for every agent who did not answer.
func (g *Gateway) HideCallWindow(ctx context.Context, callID, userID string) error {
	form := url.Values{"CALL_ID": {callID}, "USER_ID": {userID}}
	_, err := g.doRequest(ctx, http.MethodPost, "telephony.externalcall.hide", form)
	return err
}

// FinishCall closes the call record and returns the CRM activity it
// produced (telephony.externalcall.finish).
func (g *Gateway) FinishCall(ctx context.Context, callID, userID string, durationSeconds int) (*FinishResult, error) {
	form := url.Values{
		"CALL_ID":  {callID},
		"USER_ID":  {userID},
		"DURATION": {strconv.Itoa(durationSeconds)},
	}
	raw, err := g.doRequest(ctx, http.MethodPost, "telephony.externalcall.finish", form)
	if err != nil {
		return nil, err
	}
	var resp struct {
		CRMActivityID string `json:"CRM_ACTIVITY_ID"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransportError{Endpoint: "telephony.externalcall.finish", Err: err}
	}
	return &FinishResult{ActivityID: resp.CRMActivityID}, nil
}

// AttachRecording uploads the file at path and attaches it to callID via
// the two-step telephony.externalCall.attachRecord protocol (spec.md §6,
// grounded on _attach_call_record).
func (g *Gateway) AttachRecording(ctx context.Context, callID, path string) error {
	form := url.Values{
		"CALL_ID":  {callID},
		"FILENAME": {filepath.Base(path)},
	}
	return g.uploadAttachment(ctx, "telephony.externalCall.attachRecord", form, path)
}
