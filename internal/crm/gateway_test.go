package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/axelmiami/callbridge/internal/config"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Gateway{
		baseURL:     srv.URL,
		http:        &http.Client{Timeout: time.Second},
		limiter:     rate.NewLimiter(rate.Inf, 1),
		callAdminID: "1",
		leadUFField: "UF_LEAD_TARGET",
		dealUFField: "UF_DEAL_TARGET",
	}
}

func TestFindContactByPhoneReturnsBestMatch(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/crm.contact.list") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("filter[PHONE]") != "+15551234" {
			t.Errorf("filter[PHONE] = %q", r.URL.Query().Get("filter[PHONE]"))
		}
		fmt.Fprint(w, `{"result":[
			{"ID":"1","NAME":"","LAST_NAME":"","SECOND_NAME":""},
			{"ID":"2","NAME":"Jane","LAST_NAME":"Doe","SECOND_NAME":""}
		]}`)
	})

	contact, err := g.FindContactByPhone(context.Background(), "+15551234")
	if err != nil {
		t.Fatalf("FindContactByPhone: %v", err)
	}
	if contact == nil || contact.ID != "2" {
		t.Fatalf("FindContactByPhone = %+v, want ID 2 (most complete name)", contact)
	}
	if contact.FullName() != "Jane Doe" {
		t.Errorf("FullName() = %q", contact.FullName())
	}
}

func TestFindContactByPhoneNoMatchIsNotAnError(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":null,"error":"","error_description":""}`)
	})

	contact, err := g.FindContactByPhone(context.Background(), "+15550000")
	if err != nil {
		t.Fatalf("FindContactByPhone: %v, want nil error on empty result", err)
	}
	if contact != nil {
		t.Errorf("FindContactByPhone = %+v, want nil", contact)
	}
}

func TestDoRequestClassifiesTransportErrorOnBadStatus(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := g.doRequest(context.Background(), http.MethodGet, "user.get", nil)
	if err == nil {
		t.Fatal("doRequest: expected error")
	}
	if _, ok := err.(*TransportError); !ok {
		t.Errorf("doRequest error type = %T, want *TransportError", err)
	}
}

func TestDoRequestClassifiesSemanticErrorOnAppError(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"INVALID_FIELD","error_description":"bad field"}`)
	})

	_, err := g.doRequest(context.Background(), http.MethodGet, "crm.lead.get", nil)
	sem, ok := err.(*SemanticError)
	if !ok {
		t.Fatalf("doRequest error type = %T, want *SemanticError", err)
	}
	if sem.Code != "INVALID_FIELD" {
		t.Errorf("SemanticError.Code = %q", sem.Code)
	}
}

func TestRegisterCallParsesCreatedEntities(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.Form.Get("TYPE") != "2" {
			t.Errorf("TYPE = %q, want 2", r.Form.Get("TYPE"))
		}
		fmt.Fprint(w, `{"result":{
			"CALL_ID":"call-1",
			"CRM_CREATED_LEAD":"55",
			"CRM_CREATED_ENTITIES":[{"ENTITY_TYPE":"LEAD","ENTITY_ID":"55"}]
		}}`)
	})

	result, err := g.RegisterCall(context.Background(), "1", "+15551234", 2, "100")
	if err != nil {
		t.Fatalf("RegisterCall: %v", err)
	}
	if result.CallID != "call-1" {
		t.Errorf("CallID = %q", result.CallID)
	}
	if len(result.CreatedEntities) != 1 || result.CreatedEntities[0].EntityID != "55" {
		t.Errorf("CreatedEntities = %+v", result.CreatedEntities)
	}
}

func TestCreateLeadRejectsMissingRequiredFields(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("CreateLead should not have made an HTTP request with missing fields")
	})

	_, err := g.CreateLead(context.Background(), map[string]string{"TITLE": "x"})
	if err == nil {
		t.Fatal("CreateLead: expected error for missing PHONE/SOURCE_ID/SOURCE_DESCRIPTION")
	}
}

func TestCreateLeadEncodesPhoneAsMultiValue(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.Form.Get("fields[PHONE][][VALUE]") != "+15551234" {
			t.Errorf("fields[PHONE][][VALUE] = %q", r.Form.Get("fields[PHONE][][VALUE]"))
		}
		if r.Form.Get("fields[PHONE][][VALUE_TYPE]") != "MOBILE" {
			t.Errorf("fields[PHONE][][VALUE_TYPE] = %q", r.Form.Get("fields[PHONE][][VALUE_TYPE]"))
		}
		fmt.Fprint(w, `{"result":"77"}`)
	})

	id, err := g.CreateLead(context.Background(), map[string]string{
		"TITLE": "Sales - caller", "PHONE": "+15551234", "SOURCE_ID": "CALL", "SOURCE_DESCRIPTION": "Incoming call",
	})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	if id != "77" {
		t.Errorf("CreateLead id = %q, want 77", id)
	}
}

func TestGetEntitiesForSkipsDealsWithoutContact(t *testing.T) {
	var sawDealRequest bool
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/crm.deal.list") {
			sawDealRequest = true
		}
		fmt.Fprint(w, `{"result":[]}`)
	})
	catalog := map[string]config.EntityTypeEndpoint{
		"lead": {Name: "Lead", Request: "crm.lead.list"},
		"deal": {Name: "Deal", Request: "crm.deal.list"},
	}

	if _, err := g.GetEntitiesFor(context.Background(), "", "+15551234", catalog); err != nil {
		t.Fatalf("GetEntitiesFor: %v", err)
	}
	if sawDealRequest {
		t.Error("GetEntitiesFor queried deals with no contactId set")
	}
}

func TestGetEntitiesForDropsTerminalLeadStatuses(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":[
			{"ID":"1","TITLE":"Open lead","STATUS_ID":"NEW"},
			{"ID":"2","TITLE":"Converted lead","STATUS_ID":"CONVERTED"}
		]}`)
	})
	catalog := map[string]config.EntityTypeEndpoint{"lead": {Name: "Lead", Request: "crm.lead.list"}}

	entities, err := g.GetEntitiesFor(context.Background(), "10", "", catalog)
	if err != nil {
		t.Fatalf("GetEntitiesFor: %v", err)
	}
	leads := entities["lead"]
	if len(leads) != 1 || leads[0].ID != "1" {
		t.Errorf("leads = %+v, want only the NEW lead", leads)
	}
}
