package deckwire

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// UnknownLabel is returned by ParseMessage for frames that are
	// structurally valid but carry a label we don't know. These are not
	// errors worth dropping a connection over: relays are allowed to speak
	// extensions we don't understand.
	UnknownLabel = errors.New("unknown envelope label")

	InvalidJsonEnvelope = errors.New("invalid json envelope")
)

// ParseMessage turns a raw relay frame into one of the Envelope types.
func ParseMessage(message string) (Envelope, error) {
	firstQuote := strings.IndexByte(message, '"')
	if firstQuote == -1 {
		return nil, InvalidJsonEnvelope
	}
	secondQuote := strings.IndexByte(message[firstQuote+1:], '"')
	if secondQuote == -1 {
		return nil, InvalidJsonEnvelope
	}
	label := message[firstQuote+1 : firstQuote+1+secondQuote]

	var v Envelope
	switch label {
	case "EVENT":
		v = &EventEnvelope{}
	case "REQ":
		v = &ReqEnvelope{}
	case "NOTICE":
		x := NoticeEnvelope("")
		v = &x
	case "EOSE":
		x := EOSEEnvelope("")
		v = &x
	case "OK":
		v = &OKEnvelope{}
	case "AUTH":
		v = &AuthEnvelope{}
	case "CLOSED":
		v = &ClosedEnvelope{}
	case "CLOSE":
		x := CloseEnvelope("")
		v = &x
	default:
		return nil, UnknownLabel
	}

	if err := v.FromJSON(message); err != nil {
		return nil, err
	}

	return v, nil
}

// Envelope is the interface for all protocol message envelopes.
type Envelope interface {
	Label() string
	FromJSON(string) error
	MarshalJSON() ([]byte, error)
	String() string
}

var (
	_ Envelope = (*EventEnvelope)(nil)
	_ Envelope = (*ReqEnvelope)(nil)
	_ Envelope = (*NoticeEnvelope)(nil)
	_ Envelope = (*EOSEEnvelope)(nil)
	_ Envelope = (*CloseEnvelope)(nil)
	_ Envelope = (*ClosedEnvelope)(nil)
	_ Envelope = (*OKEnvelope)(nil)
	_ Envelope = (*AuthEnvelope)(nil)
)

// EventEnvelope represents an EVENT message.
type EventEnvelope struct {
	SubscriptionID *string
	Event
}

func (_ EventEnvelope) Label() string { return "EVENT" }

func (v *EventEnvelope) FromJSON(data string) error {
	r := gjson.Parse(data)
	arr := r.Array()
	switch len(arr) {
	case 2:
		return v.Event.UnmarshalJSON([]byte(arr[1].Raw))
	case 3:
		subid := arr[1].String()
		v.SubscriptionID = &subid
		return v.Event.UnmarshalJSON([]byte(arr[2].Raw))
	default:
		return fmt.Errorf("failed to decode EVENT envelope")
	}
}

func (v EventEnvelope) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 150+len(v.Content))
	b = append(b, `["EVENT",`...)
	if v.SubscriptionID != nil {
		b = escapeString(b, *v.SubscriptionID)
		b = append(b, ',')
	}
	evtb, err := v.Event.MarshalJSON()
	if err != nil {
		return nil, err
	}
	b = append(b, evtb...)
	b = append(b, ']')
	return b, nil
}

// ReqEnvelope represents a REQ message: a subscription id followed by one
// or more filters.
type ReqEnvelope struct {
	SubscriptionID string
	Filters        Filters
}

func (_ ReqEnvelope) Label() string { return "REQ" }

func (v *ReqEnvelope) FromJSON(data string) error {
	r := gjson.Parse(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode REQ envelope: missing filters")
	}
	v.SubscriptionID = arr[1].String()

	v.Filters = make(Filters, len(arr)-2)
	for i, filterj := range arr[2:] {
		if err := v.Filters[i].UnmarshalJSON([]byte(filterj.Raw)); err != nil {
			return fmt.Errorf("on filter: %w", err)
		}
	}

	return nil
}

func (v ReqEnvelope) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 50+len(v.Filters)*70)
	b = append(b, `["REQ",`...)
	b = escapeString(b, v.SubscriptionID)
	for _, f := range v.Filters {
		b = append(b, ',')
		fb, err := f.MarshalJSON()
		if err != nil {
			return nil, err
		}
		b = append(b, fb...)
	}
	b = append(b, ']')
	return b, nil
}

// NoticeEnvelope represents a NOTICE message.
type NoticeEnvelope string

func (_ NoticeEnvelope) Label() string { return "NOTICE" }

func (v *NoticeEnvelope) FromJSON(data string) error {
	r := gjson.Parse(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode NOTICE envelope")
	}
	*v = NoticeEnvelope(arr[1].String())
	return nil
}

func (v NoticeEnvelope) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 12+len(v))
	b = append(b, `["NOTICE",`...)
	b = escapeString(b, string(v))
	b = append(b, ']')
	return b, nil
}

// EOSEEnvelope represents an EOSE (End of Stored Events) message.
type EOSEEnvelope string

func (_ EOSEEnvelope) Label() string { return "EOSE" }

func (v *EOSEEnvelope) FromJSON(data string) error {
	r := gjson.Parse(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode EOSE envelope")
	}
	*v = EOSEEnvelope(arr[1].String())
	return nil
}

func (v EOSEEnvelope) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 10+len(v))
	b = append(b, `["EOSE",`...)
	b = escapeString(b, string(v))
	b = append(b, ']')
	return b, nil
}

// CloseEnvelope represents a CLOSE message.
type CloseEnvelope string

func (_ CloseEnvelope) Label() string { return "CLOSE" }

func (v *CloseEnvelope) FromJSON(data string) error {
	r := gjson.Parse(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode CLOSE envelope")
	}
	*v = CloseEnvelope(arr[1].String())
	return nil
}

func (v CloseEnvelope) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 11+len(v))
	b = append(b, `["CLOSE",`...)
	b = escapeString(b, string(v))
	b = append(b, ']')
	return b, nil
}

// ClosedEnvelope represents a CLOSED message: the relay terminated a
// subscription on its side.
type ClosedEnvelope struct {
	SubscriptionID string
	Reason         string
}

func (_ ClosedEnvelope) Label() string { return "CLOSED" }

func (v *ClosedEnvelope) FromJSON(data string) error {
	r := gjson.Parse(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode CLOSED envelope")
	}
	*v = ClosedEnvelope{
		SubscriptionID: arr[1].String(),
		Reason:         arr[2].String(),
	}
	return nil
}

func (v ClosedEnvelope) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 14+len(v.SubscriptionID)+len(v.Reason))
	b = append(b, `["CLOSED",`...)
	b = escapeString(b, v.SubscriptionID)
	b = append(b, ',')
	b = escapeString(b, v.Reason)
	b = append(b, ']')
	return b, nil
}

// OKEnvelope represents an OK message: a relay's verdict on a published event.
type OKEnvelope struct {
	EventID ID
	OK      bool
	Reason  string
}

func (_ OKEnvelope) Label() string { return "OK" }

func (v *OKEnvelope) FromJSON(data string) error {
	r := gjson.Parse(data)
	arr := r.Array()
	if len(arr) < 4 {
		return fmt.Errorf("failed to decode OK envelope: missing fields")
	}
	idh := arr[1].String()
	if len(idh) != 64 {
		return fmt.Errorf("invalid event id in OK envelope")
	}
	if _, err := hex.Decode(v.EventID[:], []byte(idh)); err != nil {
		return err
	}
	v.OK = arr[2].Bool()
	v.Reason = arr[3].String()

	return nil
}

func (v OKEnvelope) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 82+len(v.Reason))
	b = append(b, `["OK","`...)
	b = hex.AppendEncode(b, v.EventID[:])
	b = append(b, `",`...)
	if v.OK {
		b = append(b, `true`...)
	} else {
		b = append(b, `false`...)
	}
	b = append(b, ',')
	b = escapeString(b, v.Reason)
	b = append(b, ']')
	return b, nil
}

// AuthEnvelope represents an AUTH message: a challenge from the relay or a
// signed response from us.
type AuthEnvelope struct {
	Challenge *string
	Event     Event
}

func (_ AuthEnvelope) Label() string { return "AUTH" }

func (v *AuthEnvelope) FromJSON(data string) error {
	r := gjson.Parse(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode AUTH envelope: missing fields")
	}
	if arr[1].IsObject() {
		return v.Event.UnmarshalJSON([]byte(arr[1].Raw))
	}
	challenge := arr[1].String()
	v.Challenge = &challenge
	return nil
}

func (v AuthEnvelope) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 200)
	b = append(b, `["AUTH",`...)
	if v.Challenge != nil {
		b = escapeString(b, *v.Challenge)
	} else {
		evtb, err := v.Event.MarshalJSON()
		if err != nil {
			return nil, err
		}
		b = append(b, evtb...)
	}
	b = append(b, ']')
	return b, nil
}

func (v EventEnvelope) String() string  { return envelopeString(v) }
func (v ReqEnvelope) String() string    { return envelopeString(v) }
func (v NoticeEnvelope) String() string { return envelopeString(v) }
func (v EOSEEnvelope) String() string   { return envelopeString(v) }
func (v CloseEnvelope) String() string  { return envelopeString(v) }
func (v ClosedEnvelope) String() string { return envelopeString(v) }
func (v OKEnvelope) String() string     { return envelopeString(v) }
func (v AuthEnvelope) String() string   { return envelopeString(v) }

func envelopeString(v interface{ MarshalJSON() ([]byte, error) }) string {
	b, _ := v.MarshalJSON()
	return string(b)
}
