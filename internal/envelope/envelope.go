// Package envelope implements the distribution envelope container used as the
// unit of outbound clinical transmission: a multi-payload XML structure with
// addressing metadata, a service classification and a payload manifest.
package envelope

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Handling specification keys
const (
	KeyInteractionID = "urn:savegress:telecare:ns:interaction"
	KeyAckRequested  = "urn:savegress:telecare:ns:ackrequested"
)

// ContentTypeCSV is the content type used for all device payloads
const ContentTypeCSV = "text/csv"

const namespace = "urn:savegress:telecare:ns:distribution"

var (
	ErrNoService    = errors.New("envelope: service not set")
	ErrNoRecipients = errors.New("envelope: no recipients")
	ErrNoPayloads   = errors.New("envelope: no payloads")
)

// Payload is one source's data embedded in an envelope
type Payload struct {
	ID          string
	ContentType string
	ProfileID   string
	Body        []byte
}

// HandlingSpec is a single handling specification entry
type HandlingSpec struct {
	Key   string
	Value string
}

// Envelope is a multi-payload distribution container
type Envelope struct {
	TrackingID string
	CreatedAt  time.Time

	service    string
	senders    []string
	recipients []string
	identities []string
	handling   []HandlingSpec
	payloads   []Payload
}

// New creates an empty envelope with a fresh tracking ID
func New() *Envelope {
	return &Envelope{
		TrackingID: uuid.New().String(),
		CreatedAt:  time.Now().UTC(),
	}
}

// AddSender appends a sender address
func (e *Envelope) AddSender(uri string) {
	e.senders = append(e.senders, uri)
}

// AddRecipient appends a recipient address
func (e *Envelope) AddRecipient(uri string) {
	e.recipients = append(e.recipients, uri)
}

// AddIdentity appends an audit identity
func (e *Envelope) AddIdentity(uri string) {
	e.identities = append(e.identities, uri)
}

// SetService sets the service classification tag
func (e *Envelope) SetService(service string) {
	e.service = service
}

// Service returns the service classification tag
func (e *Envelope) Service() string {
	return e.service
}

// AddHandling appends a handling specification entry, preserving order
func (e *Envelope) AddHandling(key, value string) {
	e.handling = append(e.handling, HandlingSpec{Key: key, Value: value})
}

// AddPayload appends one payload part with its classification profile
func (e *Envelope) AddPayload(contentType string, body []byte, profileID string) {
	id := fmt.Sprintf("%s_%d", e.TrackingID, len(e.payloads)+1)
	e.payloads = append(e.payloads, Payload{
		ID:          id,
		ContentType: contentType,
		ProfileID:   profileID,
		Body:        body,
	})
}

// Payloads returns the ordered payload parts
func (e *Envelope) Payloads() []Payload {
	return e.payloads
}

// PayloadCount returns the number of payload parts
func (e *Envelope) PayloadCount() int {
	return len(e.payloads)
}

// Serialize renders the envelope to its XML wire form. Payload bodies are
// base64 encoded.
func (e *Envelope) Serialize() ([]byte, error) {
	if e.service == "" {
		return nil, ErrNoService
	}
	if len(e.recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if len(e.payloads) == 0 {
		return nil, ErrNoPayloads
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<itk:DistributionEnvelope xmlns:itk="%s">`+"\n", namespace)

	fmt.Fprintf(&b, `  <itk:header service="%s" trackingid="%s" created="%s">`+"\n",
		xmlEscape(e.service), xmlEscape(e.TrackingID), e.CreatedAt.Format(time.RFC3339))

	b.WriteString("    <itk:addresslist>\n")
	for _, r := range e.recipients {
		fmt.Fprintf(&b, `      <itk:address uri="%s"/>`+"\n", xmlEscape(r))
	}
	b.WriteString("    </itk:addresslist>\n")

	if len(e.identities) > 0 {
		b.WriteString("    <itk:auditIdentity>\n")
		for _, id := range e.identities {
			fmt.Fprintf(&b, `      <itk:id uri="%s"/>`+"\n", xmlEscape(id))
		}
		b.WriteString("    </itk:auditIdentity>\n")
	}

	for _, s := range e.senders {
		fmt.Fprintf(&b, `    <itk:senderAddress uri="%s"/>`+"\n", xmlEscape(s))
	}

	if len(e.handling) > 0 {
		b.WriteString("    <itk:handlingSpecification>\n")
		for _, h := range e.handling {
			fmt.Fprintf(&b, `      <itk:spec key="%s" value="%s"/>`+"\n",
				xmlEscape(h.Key), xmlEscape(h.Value))
		}
		b.WriteString("    </itk:handlingSpecification>\n")
	}

	fmt.Fprintf(&b, `    <itk:manifest count="%d">`+"\n", len(e.payloads))
	for _, p := range e.payloads {
		fmt.Fprintf(&b, `      <itk:manifestitem id="%s" mimetype="%s" profileid="%s" base64="true"/>`+"\n",
			xmlEscape(p.ID), xmlEscape(p.ContentType), xmlEscape(p.ProfileID))
	}
	b.WriteString("    </itk:manifest>\n")
	b.WriteString("  </itk:header>\n")

	fmt.Fprintf(&b, `  <itk:payloads count="%d">`+"\n", len(e.payloads))
	for _, p := range e.payloads {
		fmt.Fprintf(&b, `    <itk:payload id="%s">%s</itk:payload>`+"\n",
			xmlEscape(p.ID), base64.StdEncoding.EncodeToString(p.Body))
	}
	b.WriteString("  </itk:payloads>\n")
	b.WriteString("</itk:DistributionEnvelope>\n")

	return []byte(b.String()), nil
}

func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
