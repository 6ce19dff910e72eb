package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ScopeStatus string

const (
	ScopeStatusDraft  ScopeStatus = "draft"
	ScopeStatusLocked ScopeStatus = "locked"
)

type Criticality string

const (
	CriticalityLow    Criticality = "LOW"
	CriticalityMedium Criticality = "MEDIUM"
	CriticalityHigh   Criticality = "HIGH"
)

type TargetType string

const (
	TargetURL    TargetType = "url"
	TargetDomain TargetType = "domain"
	TargetIP     TargetType = "ip"
	TargetCIDR   TargetType = "cidr"
)

// Target is one scope entry. It decodes from either a bare string or an object.
type Target struct {
	Value       string      `json:"value" yaml:"value"`
	Type        TargetType  `json:"type,omitempty" yaml:"type,omitempty"`
	Criticality Criticality `json:"criticality,omitempty" yaml:"criticality,omitempty"`
}

func (t *Target) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Target{Value: s}
		t.normalize()
		return nil
	}
	type plain Target
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = Target(p)
	t.normalize()
	return nil
}

func (t *Target) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = Target{Value: node.Value}
		t.normalize()
		return nil
	}
	type plain Target
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = Target(p)
	t.normalize()
	return nil
}

func (t *Target) normalize() {
	t.Value = strings.TrimSpace(t.Value)
	t.Criticality = Criticality(strings.ToUpper(strings.TrimSpace(string(t.Criticality))))
	if t.Criticality == "" {
		t.Criticality = CriticalityMedium
	}
	if t.Type == "" {
		t.Type = InferTargetType(t.Value)
	}
}

// InferTargetType guesses the entry type from its literal form.
func InferTargetType(value string) TargetType {
	switch {
	case strings.Contains(value, "://"):
		return TargetURL
	case strings.Contains(value, "/"):
		if _, _, err := net.ParseCIDR(value); err == nil {
			return TargetCIDR
		}
		return TargetURL
	case net.ParseIP(value) != nil:
		return TargetIP
	default:
		return TargetDomain
	}
}

// TimeRestrictions bound when proposals may be made, evaluated in UTC.
type TimeRestrictions struct {
	Weekdays     []string `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
	StartHourUTC int      `json:"start_hour_utc" yaml:"start_hour_utc"`
	EndHourUTC   int      `json:"end_hour_utc" yaml:"end_hour_utc"`
}

// Allows reports whether t falls inside the restriction window.
func (r *TimeRestrictions) Allows(t time.Time) bool {
	if r == nil {
		return true
	}
	t = t.UTC()
	if len(r.Weekdays) > 0 {
		day := weekdayKey(t.Weekday().String())
		found := false
		for _, w := range r.Weekdays {
			if weekdayKey(w) == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if r.StartHourUTC == r.EndHourUTC {
		return true
	}
	h := t.Hour()
	if r.StartHourUTC < r.EndHourUTC {
		return h >= r.StartHourUTC && h < r.EndHourUTC
	}
	return h >= r.StartHourUTC || h < r.EndHourUTC
}

func weekdayKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > 3 {
		s = s[:3]
	}
	return s
}

// ScopeDefinition is the editable body of a Scope.
type ScopeDefinition struct {
	Targets                 []Target          `json:"targets" yaml:"targets"`
	ExcludedTargets         []Target          `json:"excluded_targets,omitempty" yaml:"excluded_targets,omitempty"`
	AttackVectorsAllowed    []string          `json:"attack_vectors_allowed,omitempty" yaml:"attack_vectors_allowed,omitempty"`
	AttackVectorsProhibited []string          `json:"attack_vectors_prohibited,omitempty" yaml:"attack_vectors_prohibited,omitempty"`
	ApprovedTools           []string          `json:"approved_tools" yaml:"approved_tools"`
	TimeRestrictions        *TimeRestrictions `json:"time_restrictions,omitempty" yaml:"time_restrictions,omitempty"`
}

func (d ScopeDefinition) Validate() error {
	if len(d.Targets) == 0 {
		return errors.New("at least one target is required")
	}
	for i, t := range append(append([]Target(nil), d.Targets...), d.ExcludedTargets...) {
		if strings.TrimSpace(t.Value) == "" {
			return fmt.Errorf("target %d value is required", i)
		}
		switch t.Criticality {
		case "", CriticalityLow, CriticalityMedium, CriticalityHigh:
		default:
			return fmt.Errorf("target %q has unknown criticality %q", t.Value, t.Criticality)
		}
		if t.Type == TargetCIDR {
			if _, _, err := net.ParseCIDR(t.Value); err != nil {
				return fmt.Errorf("target %q is not a valid cidr", t.Value)
			}
		}
		if t.Type == TargetURL {
			if u, err := url.Parse(t.Value); err != nil || u.Hostname() == "" {
				return fmt.Errorf("target %q is not a valid url", t.Value)
			}
		}
	}
	for _, tool := range d.ApprovedTools {
		if strings.TrimSpace(tool) == "" {
			return errors.New("approved tool names must not be blank")
		}
	}
	if r := d.TimeRestrictions; r != nil {
		if r.StartHourUTC < 0 || r.StartHourUTC > 23 || r.EndHourUTC < 0 || r.EndHourUTC > 23 {
			return errors.New("time restriction hours must be within 0..23")
		}
	}
	return nil
}

// Normalize fills inferred target types and default criticality.
func (d *ScopeDefinition) Normalize() {
	for i := range d.Targets {
		d.Targets[i].normalize()
	}
	for i := range d.ExcludedTargets {
		d.ExcludedTargets[i].normalize()
	}
	for i, tool := range d.ApprovedTools {
		d.ApprovedTools[i] = strings.ToLower(strings.TrimSpace(tool))
	}
}

// Scope is the bounded target set a Run operates against. Once locked it never changes.
type Scope struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	Definition    ScopeDefinition `json:"definition"`
	Status        ScopeStatus     `json:"status"`
	Version       int             `json:"version"`
	LockedAt      *time.Time      `json:"locked_at,omitempty"`
	LockedBy      string          `json:"locked_by,omitempty"`
	LockSignature string          `json:"lock_signature,omitempty"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (s Scope) IsLocked() bool {
	return s.Status == ScopeStatusLocked && s.LockedAt != nil
}

func (s Scope) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("scope id is required")
	}
	if strings.TrimSpace(s.ProjectID) == "" {
		return errors.New("project id is required")
	}
	return s.Definition.Validate()
}
