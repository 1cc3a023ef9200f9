package schema

import "fmt"

// PolicyType classifies a stored policy entity.
type PolicyType string

const (
	PolicyTypePlaybook        PolicyType = "playbook"
	PolicyTypeIntentGuard     PolicyType = "intent_guard"
	PolicyTypeToolGuide       PolicyType = "tool_guide"
	PolicyTypeToolApproval    PolicyType = "tool_approval"
	PolicyTypeOutputFormatter PolicyType = "output_formatter"
)

// TriggerType decides when a policy applies.
type TriggerType string

const (
	TriggerKeyword         TriggerType = "keyword"
	TriggerNaturalLanguage TriggerType = "natural_language"
	TriggerAlways          TriggerType = "always"
)

// PolicyTrigger is one activation condition of a policy.
type PolicyTrigger struct {
	Type     TriggerType `json:"type"`
	Value    []string    `json:"value,omitempty"`
	Target   string      `json:"target,omitempty"`
	Operator string      `json:"operator,omitempty"` // "and" / "or" for keyword triggers
	// Threshold applies to natural_language triggers.
	Threshold float64 `json:"threshold,omitempty"`
}

// Policy is a classification entity persisted with entity type "policy".
// Beyond storage and validation it is out of scope here.
type Policy struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Type        PolicyType      `json:"type"`
	Description string          `json:"description"`
	Triggers    []PolicyTrigger `json:"triggers"`
	Content     string          `json:"content"`
	Config      map[string]any  `json:"config,omitempty"`
	Priority    int             `json:"priority"`
	Enabled     bool            `json:"enabled"`
}

// Validate checks enum fields before a policy entity is persisted.
func (p *Policy) Validate() error {
	switch p.Type {
	case PolicyTypePlaybook, PolicyTypeIntentGuard, PolicyTypeToolGuide,
		PolicyTypeToolApproval, PolicyTypeOutputFormatter:
	default:
		return fmt.Errorf("invalid policy type %q", p.Type)
	}
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	for i, t := range p.Triggers {
		switch t.Type {
		case TriggerKeyword, TriggerNaturalLanguage, TriggerAlways:
		default:
			return fmt.Errorf("trigger %d: invalid trigger type %q", i, t.Type)
		}
	}
	return nil
}
