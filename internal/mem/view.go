package mem

import (
	"fmt"

	"github.com/stratasim/stratasim/internal/model"
)

// View is a per-task window over one agent's memory, restricted to the
// variable sets the task declared. A view is positioned on one row at a time;
// the executing worker seeks it across its row range.
type View struct {
	agent    *AgentMemory
	readable map[string]bool
	writable map[string]bool
	row      int
}

// NewView creates a view over the named agent restricted to the given access
// sets. Writable variables are implicitly readable.
func (m *Manager) NewView(agent string, readable, writable map[string]bool) (*View, error) {
	a, err := m.agent(agent)
	if err != nil {
		return nil, err
	}
	for v := range readable {
		if _, ok := a.columns[v]; !ok {
			return nil, fmt.Errorf("%w: agent %q has no variable %q", ErrAccess, agent, v)
		}
	}
	for v := range writable {
		if _, ok := a.columns[v]; !ok {
			return nil, fmt.Errorf("%w: agent %q has no variable %q", ErrAccess, agent, v)
		}
	}
	return &View{agent: a, readable: readable, writable: writable}, nil
}

// Seek positions the view on a row.
func (v *View) Seek(row int) {
	v.row = row
}

// Row returns the current row index.
func (v *View) Row() int {
	return v.row
}

func (v *View) readColumn(name string) (*Column, error) {
	if !v.readable[name] && !v.writable[name] {
		return nil, fmt.Errorf("%w: variable %q is not readable by this task", ErrAccess, name)
	}
	return v.agent.columns[name], nil
}

func (v *View) writeColumn(name string) (*Column, error) {
	if !v.writable[name] {
		return nil, fmt.Errorf("%w: variable %q is not writable by this task", ErrAccess, name)
	}
	return v.agent.columns[name], nil
}

// Int reads an int variable at the current row.
func (v *View) Int(name string) (int, error) {
	c, err := v.readColumn(name)
	if err != nil {
		return 0, err
	}
	if c.Type != model.TypeInt {
		return 0, fmt.Errorf("%w: variable %q is not an int", ErrAccess, name)
	}
	return c.Ints[v.row], nil
}

// SetInt writes an int variable at the current row.
func (v *View) SetInt(name string, value int) error {
	c, err := v.writeColumn(name)
	if err != nil {
		return err
	}
	if c.Type != model.TypeInt {
		return fmt.Errorf("%w: variable %q is not an int", ErrAccess, name)
	}
	c.Ints[v.row] = value
	return nil
}

// Double reads a double variable at the current row.
func (v *View) Double(name string) (float64, error) {
	c, err := v.readColumn(name)
	if err != nil {
		return 0, err
	}
	if c.Type != model.TypeDouble {
		return 0, fmt.Errorf("%w: variable %q is not a double", ErrAccess, name)
	}
	return c.Doubles[v.row], nil
}

// SetDouble writes a double variable at the current row.
func (v *View) SetDouble(name string, value float64) error {
	c, err := v.writeColumn(name)
	if err != nil {
		return err
	}
	if c.Type != model.TypeDouble {
		return fmt.Errorf("%w: variable %q is not a double", ErrAccess, name)
	}
	c.Doubles[v.row] = value
	return nil
}

// String reads a string variable at the current row.
func (v *View) String(name string) (string, error) {
	c, err := v.readColumn(name)
	if err != nil {
		return "", err
	}
	if c.Type != model.TypeString {
		return "", fmt.Errorf("%w: variable %q is not a string", ErrAccess, name)
	}
	return c.Strings[v.row], nil
}

// SetString writes a string variable at the current row.
func (v *View) SetString(name string, value string) error {
	c, err := v.writeColumn(name)
	if err != nil {
		return err
	}
	if c.Type != model.TypeString {
		return fmt.Errorf("%w: variable %q is not a string", ErrAccess, name)
	}
	c.Strings[v.row] = value
	return nil
}
