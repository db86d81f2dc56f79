package model

import (
	"fmt"
)

// Variable types understood by the runtime.
const (
	TypeInt    = "int"
	TypeDouble = "double"
	TypeString = "string"
)

// Variable is a named, typed memory slot declared on an agent or a message.
type Variable struct {
	Name string
	Type string
}

// Function is one transition of an agent's state machine. It declares the
// variables it touches and the messages it reads and posts so the graph
// builder can derive dependencies from it.
type Function struct {
	Name         string
	CurrentState string
	NextState    string
	Inputs       []string // message names read
	Outputs      []string // message names posted
	ReadOnly     []string // agent variables read
	ReadWrite    []string // agent variables read and written
	Condition    *Condition
}

// Agent is a named kind of entity with typed memory and an ordered list of
// transition functions. Function order is declaration order; the data
// dependency rules depend on it.
type Agent struct {
	Name      string
	Variables []Variable
	Functions []*Function
}

// Variable returns the declared variable with the given name, or nil.
func (a *Agent) Variable(name string) *Variable {
	for i := range a.Variables {
		if a.Variables[i].Name == name {
			return &a.Variables[i]
		}
	}
	return nil
}

// Function returns the declared function with the given name, or nil.
func (a *Agent) Function(name string) *Function {
	for _, f := range a.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Message is a named message type with a variable schema.
type Message struct {
	Name      string
	Variables []Variable
}

// Variable returns the declared message variable with the given name, or nil.
func (m *Message) Variable(name string) *Variable {
	for i := range m.Variables {
		if m.Variables[i].Name == name {
			return &m.Variables[i]
		}
	}
	return nil
}

// Model is the static description of a simulation: agents, their state
// machines, and the message types they exchange. Models are built through the
// mutation API below and must be validated before a graph is built from them.
type Model struct {
	Name      string
	agents    []*Agent
	messages  []*Message
	validated bool
}

// New creates an empty model.
func New(name string) *Model {
	return &Model{Name: name}
}

// Agents returns the agents in declaration order.
func (m *Model) Agents() []*Agent {
	return m.agents
}

// Messages returns the message types in declaration order.
func (m *Model) Messages() []*Message {
	return m.messages
}

// Agent returns the named agent, or nil.
func (m *Model) Agent(name string) *Agent {
	for _, a := range m.agents {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Message returns the named message type, or nil.
func (m *Model) Message(name string) *Message {
	for _, msg := range m.messages {
		if msg.Name == name {
			return msg
		}
	}
	return nil
}

// AddAgent declares a new agent. Any mutation invalidates the model.
func (m *Model) AddAgent(name string) *Agent {
	a := &Agent{Name: name}
	m.agents = append(m.agents, a)
	m.validated = false
	return a
}

// AddAgentVariable declares a typed memory variable on the named agent.
func (m *Model) AddAgentVariable(agentName, varType, varName string) error {
	a := m.Agent(agentName)
	if a == nil {
		return fmt.Errorf("%w: agent %q does not exist", ErrValidation, agentName)
	}
	a.Variables = append(a.Variables, Variable{Name: varName, Type: varType})
	m.validated = false
	return nil
}

// AddAgentFunction declares a transition function on the named agent.
func (m *Model) AddAgentFunction(agentName, name, currentState, nextState string) error {
	a := m.Agent(agentName)
	if a == nil {
		return fmt.Errorf("%w: agent %q does not exist", ErrValidation, agentName)
	}
	a.Functions = append(a.Functions, &Function{
		Name:         name,
		CurrentState: currentState,
		NextState:    nextState,
	})
	m.validated = false
	return nil
}

func (m *Model) function(agentName, funcName string) (*Function, error) {
	a := m.Agent(agentName)
	if a == nil {
		return nil, fmt.Errorf("%w: agent %q does not exist", ErrValidation, agentName)
	}
	f := a.Function(funcName)
	if f == nil {
		return nil, fmt.Errorf("%w: agent %q has no function %q", ErrValidation, agentName, funcName)
	}
	return f, nil
}

// AddFunctionInput declares that the function reads the named message type.
func (m *Model) AddFunctionInput(agentName, funcName, messageName string) error {
	f, err := m.function(agentName, funcName)
	if err != nil {
		return err
	}
	f.Inputs = append(f.Inputs, messageName)
	m.validated = false
	return nil
}

// AddFunctionOutput declares that the function posts the named message type.
func (m *Model) AddFunctionOutput(agentName, funcName, messageName string) error {
	f, err := m.function(agentName, funcName)
	if err != nil {
		return err
	}
	f.Outputs = append(f.Outputs, messageName)
	m.validated = false
	return nil
}

// AddFunctionReadOnlyVariable declares read access to an agent variable.
func (m *Model) AddFunctionReadOnlyVariable(agentName, funcName, varName string) error {
	f, err := m.function(agentName, funcName)
	if err != nil {
		return err
	}
	f.ReadOnly = append(f.ReadOnly, varName)
	m.validated = false
	return nil
}

// AddFunctionReadWriteVariable declares read-write access to an agent variable.
func (m *Model) AddFunctionReadWriteVariable(agentName, funcName, varName string) error {
	f, err := m.function(agentName, funcName)
	if err != nil {
		return err
	}
	f.ReadWrite = append(f.ReadWrite, varName)
	m.validated = false
	return nil
}

// SetFunctionCondition attaches a filter condition to the function.
func (m *Model) SetFunctionCondition(agentName, funcName string, c *Condition) error {
	f, err := m.function(agentName, funcName)
	if err != nil {
		return err
	}
	f.Condition = c
	m.validated = false
	return nil
}

// AddMessage declares a new message type.
func (m *Model) AddMessage(name string) *Message {
	msg := &Message{Name: name}
	m.messages = append(m.messages, msg)
	m.validated = false
	return msg
}

// AddMessageVariable declares a typed variable on the named message type.
func (m *Model) AddMessageVariable(messageName, varType, varName string) error {
	msg := m.Message(messageName)
	if msg == nil {
		return fmt.Errorf("%w: message %q does not exist", ErrValidation, messageName)
	}
	msg.Variables = append(msg.Variables, Variable{Name: varName, Type: varType})
	m.validated = false
	return nil
}

// IsValidated reports whether the model passed Validate since its last mutation.
func (m *Model) IsValidated() bool {
	return m.validated
}
