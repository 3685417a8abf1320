package crm

// Contact is a subset of a crm.contact.list row (spec.md §4.2).
type Contact struct {
	ID         string
	Name       string
	LastName   string
	SecondName string
}

// FullName joins the three name parts the way the enrichment step needs
// for CALLERID(name) rewriting and lead titles, skipping empty parts.
func (c Contact) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{c.Name, c.SecondName, c.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += " "
		}
		joined += p
	}
	return joined
}

// filledFields counts how many of NAME/LAST_NAME/SECOND_NAME are set, used
// to pick the best match among several contacts sharing a phone number.
func (c Contact) filledFields() int {
	n := 0
	if c.Name != "" {
		n++
	}
	if c.LastName != "" {
		n++
	}
	if c.SecondName != "" {
		n++
	}
	return n
}

// Entity is a row from a crm.<kind>.list call: a lead, deal, contact,
// company, quote, invoice or requisite associated with the caller.
type Entity struct {
	ID          string
	Title       string
	StatusID    string
	CategoryID  string
	OrderTopic  string
	TargetValue string // the configured UF custom-field value, if any
}

// EntitiesByKind groups Entity rows by the configured entity-kind key
// (e.g. "lead", "deal") from [Bitrix24EntityTypes].
type EntitiesByKind map[string][]Entity

// CreatedEntity is one member of a telephony.externalcall.register response's
// CRM_CREATED_ENTITIES list.
type CreatedEntity struct {
	EntityType string
	EntityID   string
}

// RegisterResult is the parsed response of telephony.externalcall.register.
type RegisterResult struct {
	CallID          string
	CRMCreatedLead  string
	CreatedEntities []CreatedEntity
}

// FinishResult is the parsed response of telephony.externalcall.finish.
type FinishResult struct {
	ActivityID string
}

// Binding is one row of a crm.activity.binding.list response.
type Binding struct {
	EntityTypeID int
	EntityID     string
}

// Lead is the subset of crm.lead.get fields the orchestrator needs when
// renaming a freshly auto-created lead.
type Lead struct {
	ID    string
	Title string
}
