package callback

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of events the gateway routes.
type Kind int

const (
	KindUnhandled Kind = iota
	KindContactChange
	KindExternalContactChange
	KindTextMessage
)

func (k Kind) String() string {
	switch k {
	case KindContactChange:
		return "contact_change"
	case KindExternalContactChange:
		return "external_contact_change"
	case KindTextMessage:
		return "text_message"
	default:
		return "unhandled"
	}
}

// ChangeType values carried by contact change events.
const (
	ChangeCreateUser  = "create_user"
	ChangeUpdateUser  = "update_user"
	ChangeDeleteUser  = "delete_user"
	ChangeCreateParty = "create_party"
	ChangeUpdateParty = "update_party"
	ChangeDeleteParty = "delete_party"
	ChangeUpdateTag   = "update_tag"

	ChangeAddExternalContact  = "add_external_contact"
	ChangeEditExternalContact = "edit_external_contact"
	ChangeDelExternalContact  = "del_external_contact"
)

// Event is a decrypted callback payload. Fields holds every top-level
// element of the XML document by tag name.
type Event struct {
	Kind       Kind
	MsgType    string
	Event      string
	ChangeType string
	Fields     map[string]string
}

// Get returns a field or "".
func (e *Event) Get(name string) string {
	return e.Fields[name]
}

type xmlNode struct {
	XMLName xml.Name
	Content string    `xml:",chardata"`
	Nodes   []xmlNode `xml:",any"`
}

var errNotXML = errors.New("payload is not an XML document")

// ParseEvent decodes a decrypted payload into an Event.
func ParseEvent(data []byte) (*Event, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errNotXML
	}
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}

	fields := make(map[string]string, len(root.Nodes))
	for _, n := range root.Nodes {
		if len(n.Nodes) == 0 {
			fields[n.XMLName.Local] = strings.TrimSpace(n.Content)
			continue
		}
		// one level of nesting, e.g. <ExtAttr><Item>..</Item></ExtAttr>
		for _, c := range n.Nodes {
			fields[n.XMLName.Local+"."+c.XMLName.Local] = strings.TrimSpace(c.Content)
		}
	}

	ev := &Event{
		MsgType:    fields["MsgType"],
		Event:      fields["Event"],
		ChangeType: fields["ChangeType"],
		Fields:     fields,
	}
	ev.Kind = classify(ev.MsgType, ev.Event)
	return ev, nil
}

func classify(msgType, event string) Kind {
	switch msgType {
	case "event":
		switch event {
		case "change_contact":
			return KindContactChange
		case "change_external_contact":
			return KindExternalContactChange
		}
	case "text":
		return KindTextMessage
	}
	return KindUnhandled
}

// encryptedField returns the <Encrypt> element of a delivery envelope, or
// the trimmed body when it is not such an envelope.
func encryptedField(body []byte) string {
	var env struct {
		Encrypt string `xml:"Encrypt"`
	}
	if err := xml.Unmarshal(body, &env); err == nil && strings.TrimSpace(env.Encrypt) != "" {
		return strings.TrimSpace(env.Encrypt)
	}
	return strings.TrimSpace(string(body))
}
