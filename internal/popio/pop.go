// Package popio reads and writes population XML: one document per iteration
// holding every live agent row, plus an on-demand XSD describing the shape.
package popio

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stratasim/stratasim/internal/mem"
	"github.com/stratasim/stratasim/internal/model"
)

// ErrInvalidPopulation tags population files that reference unknown agents or
// variables, or carry values that cannot be cast to the declared type.
var ErrInvalidPopulation = errors.New("invalid population")

// ErrIO tags failures of the underlying reader, writer, or filesystem.
var ErrIO = errors.New("population io")

// WritePop writes one population document: a <states> root with the
// iteration number and one <xagent> element per live row, variables in
// declaration order.
func WritePop(w io.Writer, m *model.Model, mm *mem.Manager, iteration int) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "    ")

	if err := startElement(enc, "states"); err != nil {
		return err
	}
	if err := textElement(enc, "itno", strconv.Itoa(iteration)); err != nil {
		return err
	}

	for _, agent := range m.Agents() {
		n := mm.PopulationSize(agent.Name)
		for row := 0; row < n; row++ {
			if err := writeRow(enc, mm, agent, row); err != nil {
				return err
			}
		}
	}

	if err := endElement(enc, "states"); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	// encoding/xml's Indent leaves the final end tag without a trailing
	// newline; add one so the documents diff cleanly.
	_, err := io.WriteString(w, "\n")
	return err
}

func writeRow(enc *xml.Encoder, mm *mem.Manager, agent *model.Agent, row int) error {
	if err := startElement(enc, "xagent"); err != nil {
		return err
	}
	if err := textElement(enc, "name", agent.Name); err != nil {
		return err
	}
	for _, v := range agent.Variables {
		col, err := mm.Column(agent.Name, v.Name)
		if err != nil {
			return err
		}
		var text string
		switch v.Type {
		case model.TypeInt:
			text = strconv.Itoa(col.Ints[row])
		case model.TypeDouble:
			text = strconv.FormatFloat(col.Doubles[row], 'f', 6, 64)
		default:
			text = col.Strings[row]
		}
		if err := textElement(enc, v.Name, text); err != nil {
			return err
		}
	}
	return endElement(enc, "xagent")
}

func startElement(enc *xml.Encoder, name string) error {
	if err := enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}}); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func endElement(enc *xml.Encoder, name string) error {
	if err := enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}}); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func textElement(enc *xml.Encoder, name, text string) error {
	el := xml.StartElement{Name: xml.Name{Local: name}}
	if err := enc.EncodeElement(text, el); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// ReadPop parses a population document and appends its rows to agent memory.
// Returns the document's iteration number. Unknown agent names or variables,
// and values that do not cast to the declared type, fail with
// ErrInvalidPopulation.
func ReadPop(r io.Reader, m *model.Model, mm *mem.Manager) (int, error) {
	dec := xml.NewDecoder(r)

	var tags []string
	var agent *model.Agent
	var row map[string]any
	iteration := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrIO, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			switch {
			case len(tags) == 0 && name == "states",
				len(tags) == 1 && (name == "itno" || name == "environment" || name == "xagent"),
				len(tags) == 2:
				tags = append(tags, name)
			default:
				return 0, fmt.Errorf("%w: unknown xml tag %q", ErrInvalidPopulation, name)
			}
			if name == "xagent" {
				agent = nil
				row = make(map[string]any)
			}

		case xml.CharData:
			value := strings.TrimSpace(string(t))
			if value == "" {
				break
			}
			switch {
			case len(tags) == 2 && tags[1] == "itno":
				iteration, err = strconv.Atoi(value)
				if err != nil {
					return 0, fmt.Errorf("%w: iteration number %q", ErrInvalidPopulation, value)
				}
			case len(tags) == 3 && tags[1] == "xagent":
				if err := readAgentValue(m, tags[2], value, &agent, row); err != nil {
					return 0, err
				}
			}

		case xml.EndElement:
			if len(tags) == 0 || tags[len(tags)-1] != t.Name.Local {
				return 0, fmt.Errorf("%w: tag %q is not closed properly", ErrInvalidPopulation, t.Name.Local)
			}
			if t.Name.Local == "xagent" {
				if agent == nil {
					return 0, fmt.Errorf("%w: xagent element without a name", ErrInvalidPopulation)
				}
				if err := mm.PushRow(agent.Name, row); err != nil {
					return 0, err
				}
				agent = nil
			}
			tags = tags[:len(tags)-1]
		}
	}

	if err := mm.CheckConsistent(); err != nil {
		return 0, err
	}
	return iteration, nil
}

func readAgentValue(m *model.Model, tag, value string, agent **model.Agent, row map[string]any) error {
	if tag == "name" {
		a := m.Agent(value)
		if a == nil {
			return fmt.Errorf("%w: agent type is not recognised: %q", ErrInvalidPopulation, value)
		}
		*agent = a
		return nil
	}
	if *agent == nil {
		// Variable elements before <name>; the original tolerates this only
		// when the agent is already known, so reject.
		return fmt.Errorf("%w: variable %q before agent name", ErrInvalidPopulation, tag)
	}
	v := (*agent).Variable(tag)
	if v == nil {
		return fmt.Errorf("%w: agent variable is not recognised: %q", ErrInvalidPopulation, tag)
	}
	switch v.Type {
	case model.TypeInt:
		iv, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: variable %q could not be cast to int: %q", ErrInvalidPopulation, tag, value)
		}
		row[tag] = iv
	case model.TypeDouble:
		dv, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: variable %q could not be cast to double: %q", ErrInvalidPopulation, tag, value)
		}
		row[tag] = dv
	default:
		row[tag] = value
	}
	return nil
}
