package popio

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/stratasim/stratasim/internal/model"
)

// schemaType maps a variable type to its XSD data type.
func schemaType(t string) string {
	switch t {
	case model.TypeInt:
		return "xs:integer"
	case model.TypeDouble:
		return "xs:double"
	default:
		return "xs:string"
	}
}

// WriteSchema emits an XSD describing the population documents this model
// produces: the agent name enumeration, one variable group per agent, and
// the states/itno/xagent tag structure.
func WriteSchema(w io.Writer, m *model.Model) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "    ")

	open := func(name string, attrs ...string) error {
		el := xml.StartElement{Name: xml.Name{Local: name}}
		for i := 0; i+1 < len(attrs); i += 2 {
			el.Attr = append(el.Attr, xml.Attr{Name: xml.Name{Local: attrs[i]}, Value: attrs[i+1]})
		}
		return enc.EncodeToken(el)
	}
	closeTag := func(name string) error {
		return enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
	}
	text := func(name, value string, attrs ...string) error {
		if err := open(name, attrs...); err != nil {
			return err
		}
		if err := enc.EncodeToken(xml.CharData(value)); err != nil {
			return err
		}
		return closeTag(name)
	}

	writeErr := func(err error) error {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	if err := open("xs:schema",
		"xmlns:xs", "http://www.w3.org/2001/XMLSchema",
		"elementFormDefault", "qualified"); err != nil {
		return writeErr(err)
	}
	open("xs:annotation")
	text("xs:documentation", "Auto-generated data schema")
	closeTag("xs:annotation")

	// Agent name enumeration.
	open("xs:simpleType", "name", "agentType")
	open("xs:restriction", "base", "xs:string")
	for _, a := range m.Agents() {
		open("xs:enumeration", "value", a.Name)
		closeTag("xs:enumeration")
	}
	closeTag("xs:restriction")
	closeTag("xs:simpleType")

	// Choice over per-agent variable groups.
	open("xs:group", "name", "agent_vars")
	open("xs:choice")
	for _, a := range m.Agents() {
		open("xs:group", "ref", "agent_"+a.Name+"_vars")
		closeTag("xs:group")
	}
	closeTag("xs:choice")
	closeTag("xs:group")

	// One variable group per agent.
	for _, a := range m.Agents() {
		open("xs:group", "name", "agent_"+a.Name+"_vars")
		open("xs:sequence")
		for _, v := range a.Variables {
			open("xs:element", "name", v.Name, "type", schemaType(v.Type))
			closeTag("xs:element")
		}
		closeTag("xs:sequence")
		closeTag("xs:group")
	}

	// xagent element.
	open("xs:element", "name", "xagent")
	open("xs:annotation")
	text("xs:documentation", "Agent data")
	closeTag("xs:annotation")
	open("xs:complexType")
	open("xs:sequence")
	open("xs:element", "name", "name", "type", "agentType")
	closeTag("xs:element")
	open("xs:group", "ref", "agent_vars")
	closeTag("xs:group")
	closeTag("xs:sequence")
	closeTag("xs:complexType")
	closeTag("xs:element")

	// Document structure.
	open("xs:element", "name", "states")
	open("xs:complexType")
	open("xs:sequence")
	open("xs:element", "name", "itno", "type", "xs:nonNegativeInteger")
	open("xs:annotation")
	text("xs:documentation", "Iteration number")
	closeTag("xs:annotation")
	closeTag("xs:element")
	open("xs:element", "ref", "xagent", "minOccurs", "0", "maxOccurs", "unbounded")
	closeTag("xs:element")
	closeTag("xs:sequence")
	closeTag("xs:complexType")
	closeTag("xs:element")

	if err := closeTag("xs:schema"); err != nil {
		return writeErr(err)
	}
	if err := enc.Flush(); err != nil {
		return writeErr(err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}
