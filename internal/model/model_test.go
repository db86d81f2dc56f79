package model

import (
	"errors"
	"testing"
)

func validModel() *Model {
	m := New("test")
	m.AddAgent("A")
	m.AddAgentVariable("A", TypeInt, "x")
	m.AddAgentVariable("A", TypeDouble, "y")
	m.AddMessage("M")
	m.AddMessageVariable("M", TypeDouble, "v")
	m.AddAgentFunction("A", "F1", "s", "t")
	m.AddFunctionReadWriteVariable("A", "F1", "x")
	m.AddFunctionOutput("A", "F1", "M")
	m.AddAgentFunction("A", "F2", "t", "u")
	m.AddFunctionInput("A", "F2", "M")
	m.AddFunctionReadOnlyVariable("A", "F2", "y")
	return m
}

// TestValidateAcceptsWellFormedModel checks the happy path and the validated
// flag lifecycle.
func TestValidateAcceptsWellFormedModel(t *testing.T) {
	m := validModel()
	if m.IsValidated() {
		t.Error("model validated before Validate")
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !m.IsValidated() {
		t.Error("model not marked validated")
	}

	// Mutation invalidates.
	m.AddAgentVariable("A", TypeInt, "z")
	if m.IsValidated() {
		t.Error("mutation did not invalidate the model")
	}
}

// TestValidateRejections checks the static validation failure cases.
func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func() *Model
	}{
		{
			name: "duplicate agent",
			setup: func() *Model {
				m := New("t")
				m.AddAgent("A")
				m.AddAgent("A")
				return m
			},
		},
		{
			name: "duplicate variable",
			setup: func() *Model {
				m := New("t")
				m.AddAgent("A")
				m.AddAgentVariable("A", TypeInt, "x")
				m.AddAgentVariable("A", TypeInt, "x")
				return m
			},
		},
		{
			name: "unknown variable type",
			setup: func() *Model {
				m := New("t")
				m.AddAgent("A")
				m.AddAgentVariable("A", "float", "x")
				return m
			},
		},
		{
			name: "function reads unknown variable",
			setup: func() *Model {
				m := New("t")
				m.AddAgent("A")
				m.AddAgentFunction("A", "F", "s", "t")
				m.AddFunctionReadOnlyVariable("A", "F", "ghost")
				return m
			},
		},
		{
			name: "function writes unknown variable",
			setup: func() *Model {
				m := New("t")
				m.AddAgent("A")
				m.AddAgentFunction("A", "F", "s", "t")
				m.AddFunctionReadWriteVariable("A", "F", "ghost")
				return m
			},
		},
		{
			name: "unresolved message input",
			setup: func() *Model {
				m := New("t")
				m.AddAgent("A")
				m.AddAgentFunction("A", "F", "s", "t")
				m.AddFunctionInput("A", "F", "ghost")
				return m
			},
		},
		{
			name: "unresolved message output",
			setup: func() *Model {
				m := New("t")
				m.AddAgent("A")
				m.AddAgentFunction("A", "F", "s", "t")
				m.AddFunctionOutput("A", "F", "ghost")
				return m
			},
		},
		{
			name: "duplicate function",
			setup: func() *Model {
				m := New("t")
				m.AddAgent("A")
				m.AddAgentFunction("A", "F", "s", "t")
				m.AddAgentFunction("A", "F", "t", "u")
				return m
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.setup().Validate()
			if !errors.Is(err, ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
}

// TestMutationOnUnknownTargets checks that the builder API rejects references
// to undeclared agents, functions, and messages.
func TestMutationOnUnknownTargets(t *testing.T) {
	m := New("t")
	if err := m.AddAgentVariable("ghost", TypeInt, "x"); !errors.Is(err, ErrValidation) {
		t.Errorf("AddAgentVariable error = %v, want ErrValidation", err)
	}
	m.AddAgent("A")
	if err := m.AddFunctionInput("A", "ghost", "M"); !errors.Is(err, ErrValidation) {
		t.Errorf("AddFunctionInput error = %v, want ErrValidation", err)
	}
	if err := m.AddMessageVariable("ghost", TypeInt, "x"); !errors.Is(err, ErrValidation) {
		t.Errorf("AddMessageVariable error = %v, want ErrValidation", err)
	}
}
