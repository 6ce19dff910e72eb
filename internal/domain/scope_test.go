package domain

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestScopeDefinition_DecodesStringAndObjectTargets(t *testing.T) {
	var def ScopeDefinition
	raw := `{"targets":["https://example.com",{"value":"10.0.0.0/24","criticality":"high"}],"approved_tools":["HTTPX"]}`
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if def.Targets[0].Type != TargetURL || def.Targets[0].Criticality != CriticalityMedium {
		t.Fatalf("unexpected first target %+v", def.Targets[0])
	}
	if def.Targets[1].Type != TargetCIDR || def.Targets[1].Criticality != CriticalityHigh {
		t.Fatalf("unexpected second target %+v", def.Targets[1])
	}
	if def.ApprovedTools[0] != "httpx" {
		t.Fatalf("tool not normalized: %q", def.ApprovedTools[0])
	}
}

func TestScopeDefinition_DecodesYAML(t *testing.T) {
	raw := `
targets:
  - https://example.com
  - value: 10.0.0.0/24
    criticality: low
excluded_targets:
  - admin.example.com
approved_tools: [httpx, nmap]
`
	var def ScopeDefinition
	if err := yaml.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(def.Targets) != 2 || def.Targets[0].Type != TargetURL || def.Targets[1].Criticality != CriticalityLow {
		t.Fatalf("unexpected targets %+v", def.Targets)
	}
	if def.ExcludedTargets[0].Value != "admin.example.com" {
		t.Fatalf("unexpected exclusions %+v", def.ExcludedTargets)
	}
}

func TestScopeDefinition_RequiresTargets(t *testing.T) {
	if err := (ScopeDefinition{ApprovedTools: []string{"httpx"}}).Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTimeRestrictions_Window(t *testing.T) {
	r := &TimeRestrictions{Weekdays: []string{"Monday", "tue"}, StartHourUTC: 9, EndHourUTC: 17}
	monMorning := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	monNight := time.Date(2025, 1, 6, 20, 0, 0, 0, time.UTC)
	sunday := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)
	if !r.Allows(monMorning) {
		t.Fatalf("expected monday morning allowed")
	}
	if r.Allows(monNight) || r.Allows(sunday) {
		t.Fatalf("expected outside window to be denied")
	}
}

func TestTimeRestrictions_OvernightWindow(t *testing.T) {
	r := &TimeRestrictions{StartHourUTC: 22, EndHourUTC: 4}
	if !r.Allows(time.Date(2025, 1, 6, 23, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 23h allowed")
	}
	if r.Allows(time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected noon denied")
	}
}
