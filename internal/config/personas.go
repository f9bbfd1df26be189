package config

import (
	"fmt"
	"os"

	"github.com/bbielsa/interviewcall/internal/domain"

	"gopkg.in/yaml.v3"
)

// PersonaMapping binds an interview type to the replica and persona that run it.
type PersonaMapping struct {
	Type      domain.InterviewType `yaml:"type"`
	ReplicaID string               `yaml:"replica_id"`
	PersonaID string               `yaml:"persona_id"`
}

// Personas is the persona mapping file.
type Personas struct {
	Mappings         []PersonaMapping `yaml:"interview_types"`
	Language         string           `yaml:"language"`
	ApplyGreenscreen bool             `yaml:"apply_greenscreen"`
}

// LoadPersonas reads and validates the persona mapping file.
func LoadPersonas(filename string) (*Personas, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}

	return ParsePersonas(data)
}

// ParsePersonas parses persona mappings from YAML.
func ParsePersonas(data []byte) (*Personas, error) {
	var personas Personas
	if err := yaml.Unmarshal(data, &personas); err != nil {
		return nil, fmt.Errorf("parse personas: %w", err)
	}

	if err := personas.validate(); err != nil {
		return nil, fmt.Errorf("validate personas: %w", err)
	}

	return &personas, nil
}

func (p *Personas) validate() error {
	seen := make(map[domain.InterviewType]bool, len(p.Mappings))
	for i, m := range p.Mappings {
		if m.Type == "" {
			return fmt.Errorf("mapping %d has no type", i)
		}
		if m.ReplicaID == "" {
			return fmt.Errorf("mapping %q has no replica_id", m.Type)
		}
		if m.PersonaID == "" {
			return fmt.Errorf("mapping %q has no persona_id", m.Type)
		}
		if seen[m.Type] {
			return fmt.Errorf("duplicate mapping for %q", m.Type)
		}
		seen[m.Type] = true
	}
	return nil
}

// Lookup returns the mapping configured for an interview type.
func (p *Personas) Lookup(t domain.InterviewType) (PersonaMapping, bool) {
	if p == nil {
		return PersonaMapping{}, false
	}
	for _, m := range p.Mappings {
		if m.Type == t {
			return m, true
		}
	}
	return PersonaMapping{}, false
}

// First returns the first configured mapping, used when a type has none.
func (p *Personas) First() (PersonaMapping, bool) {
	if p == nil || len(p.Mappings) == 0 {
		return PersonaMapping{}, false
	}
	return p.Mappings[0], true
}
