// Package config loads the daemon's sectioned key-value configuration file
// and exposes typed, read-only views over it. The wire format is INI-style
// (see SPEC_FULL.md §6); parsing is done with gopkg.in/ini.v1.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// BindingMode is the per-entity-kind binding policy (spec.md §4.7).
type BindingMode string

const (
	BindingAll      BindingMode = "ALL"
	BindingFiltered BindingMode = "FILTERED"
	BindingNone     BindingMode = "NONE"
)

// AMI holds the Asterisk Manager Interface connection settings.
type AMI struct {
	Host              string
	Port              int
	Username          string
	Secret            string
	ReconnectInterval time.Duration
}

// Address returns the host:port dial target.
func (a AMI) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Records holds settings for the recording tree and its post-processing.
type Records struct {
	Mp3Dir     string
	EncodedExt string
	DeleteRaw  bool
}

// Bitrix24 holds CRM webhook connection settings and custom-field ids.
type Bitrix24 struct {
	WebhookURL     string
	CallAdminID    string
	LeadUFListID   string
	DealUFListID   string
	RequestTimeout time.Duration
}

// EntityTypeEndpoint names the CRM list endpoint and display label for a
// configured entity kind, from [Bitrix24EntityTypes].
type EntityTypeEndpoint struct {
	Name    string
	Request string
}

// Daemon holds ambient process-lifecycle knobs that spec.md leaves
// implicit but SPEC_FULL.md §5 requires (shutdown grace period, per-call
// worker queue depth, outbound CRM request rate cap).
type Daemon struct {
	ShutdownTimeout  time.Duration
	WorkerQueueDepth int
	CRMRatePerSecond float64
}

// Logging holds rotation/verbosity settings for one of the [Logging*]
// sections.
type Logging struct {
	Level      string
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Provider is the read-only typed view over the loaded configuration file.
type Provider struct {
	AMI     AMI
	Records Records
	Daemon  Daemon

	AllowedExtens []string
	EventHandling map[string]bool
	QueueNames    map[string]string

	QueueDealCategories map[string][]string
	QueueLeadTargets    map[string][]string

	Bitrix24         Bitrix24
	BindingPolicy    map[string]BindingMode
	LeadTargetLabels map[string]string
	EntityTypeLabels map[string]string
	EntityTypes      map[string]EntityTypeEndpoint

	Logging           Logging
	LoggingIncoming   Logging
	LoggingBitrix24   Logging
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Provider, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}

	p := &Provider{
		EventHandling:       make(map[string]bool),
		QueueNames:          make(map[string]string),
		QueueDealCategories: make(map[string][]string),
		QueueLeadTargets:    make(map[string][]string),
		BindingPolicy:       make(map[string]BindingMode),
		LeadTargetLabels:    make(map[string]string),
		EntityTypeLabels:    make(map[string]string),
		EntityTypes:         make(map[string]EntityTypeEndpoint),
	}

	if err := p.loadAMI(f); err != nil {
		return nil, err
	}
	p.loadRecords(f)
	p.loadDaemon(f)
	p.loadAllowedExtens(f)
	p.loadEventHandling(f)
	p.loadQueueNames(f)
	p.loadQueueLists(f)
	if err := p.loadBitrix24(f); err != nil {
		return nil, err
	}
	p.loadBindingPolicy(f)
	p.loadLeadTargetLabels(f)
	p.loadEntityTypeLabels(f)
	p.loadEntityTypeCatalog(f)
	p.Logging = loadLoggingSection(f, "Logging")
	p.LoggingIncoming = loadLoggingSection(f, "Logging_Incoming_Calls")
	p.LoggingBitrix24 = loadLoggingSection(f, "Logging_Bitrix24")

	return p, nil
}

func (p *Provider) loadAMI(f *ini.File) error {
	sec := f.Section("AMI")
	port, err := sec.Key("port").Int()
	if err != nil {
		return fmt.Errorf("config: [AMI] port: %w", err)
	}
	reconnect := sec.Key("reconnect_interval").MustInt(5)
	p.AMI = AMI{
		Host:              sec.Key("host").String(),
		Port:              port,
		Username:          sec.Key("username").String(),
		Secret:            sec.Key("secret").String(),
		ReconnectInterval: time.Duration(reconnect) * time.Second,
	}
	if p.AMI.Host == "" {
		return fmt.Errorf("config: [AMI] host is required")
	}
	return nil
}

func (p *Provider) loadRecords(f *ini.File) {
	sec := f.Section("Records")
	p.Records = Records{
		Mp3Dir:     sec.Key("mp3_dir").String(),
		EncodedExt: sec.Key("encoded_ext").MustString("mp3"),
		DeleteRaw:  sec.Key("delete_raw").MustBool(false),
	}
}

func (p *Provider) loadDaemon(f *ini.File) {
	sec := f.Section("Daemon")
	p.Daemon = Daemon{
		ShutdownTimeout:  time.Duration(sec.Key("shutdown_timeout_seconds").MustInt(15)) * time.Second,
		WorkerQueueDepth: sec.Key("worker_queue_depth").MustInt(64),
		CRMRatePerSecond: sec.Key("crm_rate_per_second").MustFloat64(10),
	}
}

func (p *Provider) loadAllowedExtens(f *ini.File) {
	raw := f.Section("Allowed_Extens").Key("extens").String()
	p.AllowedExtens = splitCSV(raw)
}

func (p *Provider) loadEventHandling(f *ini.File) {
	for _, key := range f.Section("EventHandling").Keys() {
		p.EventHandling[key.Name()] = key.MustBool(false)
	}
}

func (p *Provider) loadQueueNames(f *ini.File) {
	for _, key := range f.Section("QueueNames").Keys() {
		p.QueueNames[key.Name()] = key.String()
	}
}

func (p *Provider) loadQueueLists(f *ini.File) {
	for _, key := range f.Section("QueueB24DealCategories").Keys() {
		p.QueueDealCategories[key.Name()] = splitCSV(key.String())
	}
	for _, key := range f.Section("QueueB24LeadTarget").Keys() {
		p.QueueLeadTargets[key.Name()] = splitCSV(key.String())
	}
}

func (p *Provider) loadBitrix24(f *ini.File) error {
	sec := f.Section("Bitrix24")
	webhook := strings.TrimRight(sec.Key("webhook_url").String(), "/")
	if webhook == "" {
		return fmt.Errorf("config: [Bitrix24] webhook_url is required")
	}
	timeout := sec.Key("request_timeout_seconds").MustInt(10)
	p.Bitrix24 = Bitrix24{
		WebhookURL:     webhook,
		CallAdminID:    sec.Key("call_admin_id").String(),
		LeadUFListID:   sec.Key("lead_uf_list_id").String(),
		DealUFListID:   sec.Key("deal_uf_list_id").String(),
		RequestTimeout: time.Duration(timeout) * time.Second,
	}
	return nil
}

func (p *Provider) loadBindingPolicy(f *ini.File) {
	for _, key := range f.Section("Bitrix24_Binding_Call").Keys() {
		p.BindingPolicy[strings.ToLower(key.Name())] = BindingMode(strings.ToUpper(key.String()))
	}
}

func (p *Provider) loadLeadTargetLabels(f *ini.File) {
	for _, key := range f.Section("Bitrix24_lead_Target_IDs").Keys() {
		p.LeadTargetLabels[key.Name()] = key.String()
	}
}

func (p *Provider) loadEntityTypeLabels(f *ini.File) {
	for _, key := range f.Section("EntityTypes").Keys() {
		p.EntityTypeLabels[key.Name()] = key.String()
	}
}

// loadEntityTypeCatalog parses [Bitrix24EntityTypes], whose keys are of the
// form "<kind>.name" and "<kind>.request".
func (p *Provider) loadEntityTypeCatalog(f *ini.File) {
	for _, key := range f.Section("Bitrix24EntityTypes").Keys() {
		kind, field, ok := strings.Cut(key.Name(), ".")
		if !ok {
			continue
		}
		entry := p.EntityTypes[kind]
		switch field {
		case "name":
			entry.Name = key.String()
		case "request":
			entry.Request = key.String()
		}
		p.EntityTypes[kind] = entry
	}
}

func loadLoggingSection(f *ini.File, name string) Logging {
	sec := f.Section(name)
	return Logging{
		Level:      sec.Key("level").MustString("info"),
		Dir:        sec.Key("dir").String(),
		MaxSizeMB:  sec.Key("max_size_mb").MustInt(50),
		MaxBackups: sec.Key("max_backups").MustInt(5),
		MaxAgeDays: sec.Key("max_age_days").MustInt(30),
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, "'\"")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// EventEnabled reports whether the given AMI event kind is in the
// configured allow-list (spec.md §4.1).
func (p *Provider) EventEnabled(eventName string) bool {
	return p.EventHandling[eventName]
}

// ExtenAllowed reports whether exten is in [Allowed_Extens].
func (p *Provider) ExtenAllowed(exten string) bool {
	for _, e := range p.AllowedExtens {
		if e == exten {
			return true
		}
	}
	return false
}

// LeadTargetLabel resolves a lead-target custom-field value id to its
// configured display label, recovered from the Python prototype's
// _find_id_by_value_in_list (see SPEC_FULL.md §4.9). Falls back to the raw
// id when unconfigured.
func (p *Provider) LeadTargetLabel(id string) string {
	if label, ok := p.LeadTargetLabels[id]; ok {
		return label
	}
	return id
}

// QueueLabel returns the configured human name for a queue, or the queue
// id itself when unconfigured.
func (p *Provider) QueueLabel(queueID string) string {
	if name, ok := p.QueueNames[queueID]; ok {
		return name
	}
	return queueID
}

// EntityTypeLabel returns the localized display label for an entity kind.
func (p *Provider) EntityTypeLabel(kind string) string {
	if label, ok := p.EntityTypeLabels[kind]; ok {
		return label
	}
	return kind
}

// Bitrix24FieldFor returns the configured UF custom-field id used to carry
// an entity kind's queue-target value, or "" for kinds that have none.
func (p *Provider) Bitrix24FieldFor(kind string) string {
	switch kind {
	case "lead":
		return p.Bitrix24.LeadUFListID
	case "deal":
		return p.Bitrix24.DealUFListID
	default:
		return ""
	}
}

// ParseBindingMode validates a raw string against the three known modes.
func ParseBindingMode(raw string) (BindingMode, error) {
	switch BindingMode(strings.ToUpper(raw)) {
	case BindingAll:
		return BindingAll, nil
	case BindingFiltered:
		return BindingFiltered, nil
	case BindingNone:
		return BindingNone, nil
	default:
		return "", fmt.Errorf("config: unknown binding mode %q", raw)
	}
}
