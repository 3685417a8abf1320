package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
[AMI]
host = 127.0.0.1
port = 5038
username = admin
secret = s3cret
reconnect_interval = 3

[Records]
mp3_dir = /var/spool/recordings
encoded_ext = mp3
delete_raw = true

[Daemon]
shutdown_timeout_seconds = 20
worker_queue_depth = 128
crm_rate_per_second = 5

[Allowed_Extens]
extens = 100, 101, 102

[EventHandling]
Newchannel = true
QueueCallerJoin = true
DialBegin = false

[QueueNames]
601 = Sales
602 = Support

[QueueB24DealCategories]
601 = 2,4

[QueueB24LeadTarget]
601 = 10

[Bitrix24]
webhook_url = https://example.bitrix24.com/rest/1/abc/
call_admin_id = 1
lead_uf_list_id = UF_CRM_LEAD_TARGET
deal_uf_list_id = UF_CRM_DEAL_TARGET
request_timeout_seconds = 8

[Bitrix24_Binding_Call]
lead = ALL
deal = filtered
contact = none

[Bitrix24_lead_Target_IDs]
10 = Inbound Sales

[EntityTypes]
lead = Lead
deal = Deal

[Bitrix24EntityTypes]
lead.name = Lead
lead.request = crm.lead.list
deal.name = Deal
deal.request = crm.deal.list
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "callbridge.ini")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("writing sample config: %v", err)
	}
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	p, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.AMI.Address() != "127.0.0.1:5038" {
		t.Errorf("AMI.Address() = %q", p.AMI.Address())
	}
	if !p.Records.DeleteRaw {
		t.Error("Records.DeleteRaw = false, want true")
	}
	if p.Daemon.WorkerQueueDepth != 128 {
		t.Errorf("Daemon.WorkerQueueDepth = %d, want 128", p.Daemon.WorkerQueueDepth)
	}
	if !p.ExtenAllowed("101") || p.ExtenAllowed("999") {
		t.Error("ExtenAllowed did not respect [Allowed_Extens]")
	}
	if !p.EventEnabled("Newchannel") || p.EventEnabled("DialBegin") {
		t.Error("EventEnabled did not respect [EventHandling]")
	}
	if got := p.QueueLabel("601"); got != "Sales" {
		t.Errorf("QueueLabel(601) = %q, want Sales", got)
	}
	if got := p.QueueLabel("999"); got != "999" {
		t.Errorf("QueueLabel(999) = %q, want fallback to id", got)
	}
	if got := p.LeadTargetLabel("10"); got != "Inbound Sales" {
		t.Errorf("LeadTargetLabel(10) = %q", got)
	}
	if got := p.Bitrix24FieldFor("lead"); got != "UF_CRM_LEAD_TARGET" {
		t.Errorf("Bitrix24FieldFor(lead) = %q", got)
	}
	if got := p.Bitrix24FieldFor("contact"); got != "" {
		t.Errorf("Bitrix24FieldFor(contact) = %q, want empty", got)
	}
	if got := len(p.QueueDealCategories["601"]); got != 2 {
		t.Errorf("QueueDealCategories[601] has %d entries, want 2", got)
	}
	if p.BindingPolicy["deal"] != BindingFiltered {
		t.Errorf("BindingPolicy[deal] = %q, want FILTERED", p.BindingPolicy["deal"])
	}
	if p.EntityTypes["lead"].Request != "crm.lead.list" {
		t.Errorf("EntityTypes[lead].Request = %q", p.EntityTypes["lead"].Request)
	}
}

func TestLoadRequiresAMIHost(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "callbridge.ini")
	if err := os.WriteFile(path, []byte("[AMI]\nport = 5038\n\n[Bitrix24]\nwebhook_url = https://x/\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for missing AMI host, got nil")
	}
}

func TestLoadRequiresBitrix24Webhook(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "callbridge.ini")
	if err := os.WriteFile(path, []byte("[AMI]\nhost = 127.0.0.1\nport = 5038\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for missing webhook_url, got nil")
	}
}

func TestParseBindingMode(t *testing.T) {
	cases := map[string]BindingMode{"all": BindingAll, "FILTERED": BindingFiltered, "None": BindingNone}
	for raw, want := range cases {
		got, err := ParseBindingMode(raw)
		if err != nil {
			t.Errorf("ParseBindingMode(%q): %v", raw, err)
		}
		if got != want {
			t.Errorf("ParseBindingMode(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := ParseBindingMode("bogus"); err == nil {
		t.Error("ParseBindingMode(bogus): expected error, got nil")
	}
}
