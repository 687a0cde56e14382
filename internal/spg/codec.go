package spg

import (
	"encoding/xml"
	"fmt"
)

// document is the wire shape of a business message: the root element names
// the direction, message_header identifies the sender and message_content
// holds exactly one command element.
type document struct {
	XMLName xml.Name
	Header  Header          `xml:"message_header"`
	Content decodedContent  `xml:"message_content"`
}

type decodedContent struct {
	body Body
}

func (c *decodedContent) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if c.body != nil {
				return fmt.Errorf("message_content holds more than one command element")
			}
			factory, ok := bodyFactories[t.Name.Local]
			if !ok {
				return fmt.Errorf("unknown command tag %q", t.Name.Local)
			}
			body := factory()
			if err := d.DecodeElement(body, &t); err != nil {
				return err
			}
			c.body = body

		case xml.EndElement:
			if t.Name == start.Name {
				if c.body == nil {
					return fmt.Errorf("message_content is empty")
				}
				return nil
			}
		}
	}
}

type encodedContent struct {
	body Body
}

func (c encodedContent) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	inner := xml.StartElement{Name: xml.Name{Local: c.body.CommandTag()}}
	if err := e.EncodeElement(c.body, inner); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// Decode parses and validates a wire document into a typed Message. Any
// deviation from the schema — unknown root, missing header fields, unknown
// command tag, a tag illegal for the direction — is a *SchemaError.
func Decode(raw []byte) (*Message, error) {
	var doc document
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, schemaErrorf(err, "malformed document")
	}

	direction := Direction(doc.XMLName.Local)
	if !validDirection(direction) {
		return nil, schemaErrorf(nil, "unknown direction element %q", doc.XMLName.Local)
	}
	if doc.Header.ServiceProvID == "" {
		return nil, schemaErrorf(nil, "missing service_prov_id")
	}
	if doc.Header.MessageDateTime.IsZero() {
		return nil, schemaErrorf(nil, "missing message_date_time")
	}
	if doc.Content.body == nil {
		return nil, schemaErrorf(nil, "missing message_content")
	}

	tag := doc.Content.body.CommandTag()
	if !allowedTags[direction][tag] {
		return nil, schemaErrorf(nil, "command %q is not valid on direction %s", tag, direction)
	}

	return &Message{
		Direction: direction,
		Header:    doc.Header,
		Body:      doc.Content.body,
	}, nil
}

// Encode renders a Message as its canonical wire document. It is the left
// inverse of Decode for any message Decode can produce.
func Encode(m *Message) ([]byte, error) {
	if m == nil || m.Body == nil {
		return nil, schemaErrorf(nil, "message has no body")
	}
	if !validDirection(m.Direction) {
		return nil, schemaErrorf(nil, "unknown direction %q", m.Direction)
	}
	tag := m.Body.CommandTag()
	if !allowedTags[m.Direction][tag] {
		return nil, schemaErrorf(nil, "command %q is not valid on direction %s", tag, m.Direction)
	}

	doc := struct {
		XMLName xml.Name
		Header  Header         `xml:"message_header"`
		Content encodedContent `xml:"message_content"`
	}{
		XMLName: xml.Name{Local: string(m.Direction)},
		Header:  m.Header,
		Content: encodedContent{body: m.Body},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, schemaErrorf(err, "encoding %s", tag)
	}
	return append([]byte(xml.Header), out...), nil
}
