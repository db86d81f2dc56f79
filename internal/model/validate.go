package model

import (
	"errors"
	"fmt"
)

// ErrValidation tags every static model validation failure.
var ErrValidation = errors.New("model validation")

var knownTypes = map[string]bool{
	TypeInt:    true,
	TypeDouble: true,
	TypeString: true,
}

// Validate runs static validation over the whole model. It checks name
// uniqueness, variable types, function variable access sets, message
// references, and conditions. On success the model is marked validated.
func (m *Model) Validate() error {
	seenAgents := make(map[string]bool)
	for _, a := range m.agents {
		if a.Name == "" {
			return fmt.Errorf("%w: agent with empty name", ErrValidation)
		}
		if seenAgents[a.Name] {
			return fmt.Errorf("%w: duplicate agent %q", ErrValidation, a.Name)
		}
		seenAgents[a.Name] = true
		if err := m.validateAgent(a); err != nil {
			return err
		}
	}

	seenMessages := make(map[string]bool)
	for _, msg := range m.messages {
		if msg.Name == "" {
			return fmt.Errorf("%w: message with empty name", ErrValidation)
		}
		if seenMessages[msg.Name] {
			return fmt.Errorf("%w: duplicate message %q", ErrValidation, msg.Name)
		}
		seenMessages[msg.Name] = true
		if err := validateVariables(msg.Variables, "message "+msg.Name); err != nil {
			return err
		}
	}

	m.validated = true
	return nil
}

func (m *Model) validateAgent(a *Agent) error {
	if err := validateVariables(a.Variables, "agent "+a.Name); err != nil {
		return err
	}

	seenFuncs := make(map[string]bool)
	for _, f := range a.Functions {
		if f.Name == "" {
			return fmt.Errorf("%w: agent %q has a function with empty name", ErrValidation, a.Name)
		}
		if seenFuncs[f.Name] {
			return fmt.Errorf("%w: agent %q has duplicate function %q", ErrValidation, a.Name, f.Name)
		}
		seenFuncs[f.Name] = true

		for _, v := range f.ReadOnly {
			if a.Variable(v) == nil {
				return fmt.Errorf("%w: function %s/%s reads unknown variable %q",
					ErrValidation, a.Name, f.Name, v)
			}
		}
		for _, v := range f.ReadWrite {
			if a.Variable(v) == nil {
				return fmt.Errorf("%w: function %s/%s writes unknown variable %q",
					ErrValidation, a.Name, f.Name, v)
			}
		}
		for _, in := range f.Inputs {
			if m.Message(in) == nil {
				return fmt.Errorf("%w: function %s/%s reads unresolved message %q",
					ErrValidation, a.Name, f.Name, in)
			}
		}
		for _, out := range f.Outputs {
			if m.Message(out) == nil {
				return fmt.Errorf("%w: function %s/%s posts unresolved message %q",
					ErrValidation, a.Name, f.Name, out)
			}
		}

		if f.Condition != nil {
			if err := f.Condition.Resolve(); err != nil {
				return fmt.Errorf("function %s/%s: %w", a.Name, f.Name, err)
			}
			if err := f.Condition.validate(a); err != nil {
				return fmt.Errorf("function %s/%s: %w", a.Name, f.Name, err)
			}
		}
	}
	return nil
}

func validateVariables(vars []Variable, owner string) error {
	seen := make(map[string]bool)
	for _, v := range vars {
		if v.Name == "" {
			return fmt.Errorf("%w: %s has a variable with empty name", ErrValidation, owner)
		}
		if seen[v.Name] {
			return fmt.Errorf("%w: %s has duplicate variable %q", ErrValidation, owner, v.Name)
		}
		seen[v.Name] = true
		if !knownTypes[v.Type] {
			return fmt.Errorf("%w: %s variable %q has unknown type %q", ErrValidation, owner, v.Name, v.Type)
		}
	}
	return nil
}
