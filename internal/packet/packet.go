// Package packet builds the outbound APRS packets relayed to the bus: positions,
// messages and objects, in TNC2 text form.
package packet

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrEncoding is wrapped by every error returned from Compile
var ErrEncoding = errors.New("packet encoding failed")

const (
	maxCallsignLength   = 9
	maxAddresseeLength  = 9
	maxObjectNameLength = 9
	maxMessageLength    = 67
	noTimestamp         = "111111z"
)

// FieldError reports which field made a packet impossible to encode
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrEncoding, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrEncoding
}

func fieldError(field, format string, args ...interface{}) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Header is the addressing part shared by every packet
type Header struct {
	Source string
	Dest   string
	Digis  []string
}

// ParseDigis splits a comma separated digipeater list such as "TCPIP*,qAC"
func ParseDigis(list string) []string {
	var digis []string
	for _, d := range strings.Split(list, ",") {
		d = strings.TrimSpace(d)
		if d != "" {
			digis = append(digis, d)
		}
	}
	return digis
}

func (h Header) compile() (string, error) {
	if err := validateCallsign("source", h.Source); err != nil {
		return "", err
	}
	if err := validateCallsign("dest", h.Dest); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(strings.ToUpper(h.Source))
	b.WriteByte('>')
	b.WriteString(strings.ToUpper(h.Dest))
	for _, d := range h.Digis {
		if strings.ContainsAny(d, ",:> ") {
			return "", fieldError("digis", "invalid digipeater %q", d)
		}
		b.WriteByte(',')
		b.WriteString(d)
	}
	b.WriteByte(':')
	return b.String(), nil
}

// Message is a text message addressed to another station
type Message struct {
	Header
	Target string
	Text   string
	// ID is the optional message number the receiver should acknowledge
	ID string
}

// Compile returns the packet text
func (m *Message) Compile() (string, error) {
	header, err := m.Header.compile()
	if err != nil {
		return "", err
	}
	if m.Target == "" || len(m.Target) > maxAddresseeLength {
		return "", fieldError("target", "addressee must be 1-%d characters", maxAddresseeLength)
	}
	if len(m.Text) > maxMessageLength {
		return "", fieldError("text", "longer than %d characters", maxMessageLength)
	}
	if strings.ContainsAny(m.Text, "|~{") {
		return "", fieldError("text", "contains a reserved character")
	}
	if len(m.ID) > 5 {
		return "", fieldError("id", "message number longer than 5 characters")
	}

	body := fmt.Sprintf(":%-9s:%s", strings.ToUpper(m.Target), m.Text)
	if m.ID != "" {
		body += "{" + m.ID
	}
	return header + body, nil
}

// Symbol is an APRS symbol table/code pair
type Symbol struct {
	Table byte
	Code  byte
}

func (s Symbol) validate() error {
	if s.Table != '/' && s.Table != '\\' && !isOverlay(s.Table) {
		return fieldError("symbol_table", "invalid table %q", s.Table)
	}
	if s.Code < '!' || s.Code > '~' {
		return fieldError("symbol_code", "invalid code %q", s.Code)
	}
	return nil
}

// Location is the geographic part of positions and objects. Speed is in knots,
// altitude in feet and course in degrees; zero values are omitted.
type Location struct {
	Latitude  float64
	Longitude float64
	Symbol    Symbol
	Course    int
	Speed     float64
	Altitude  float64
	Comment   string
}

func (l Location) compile() (string, error) {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return "", fieldError("latitude", "out of range: %v", l.Latitude)
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return "", fieldError("longitude", "out of range: %v", l.Longitude)
	}
	if err := l.Symbol.validate(); err != nil {
		return "", err
	}
	if l.Course < 0 || l.Course > 360 {
		return "", fieldError("course", "out of range: %d", l.Course)
	}
	if l.Speed < 0 || l.Speed >= 1000 {
		return "", fieldError("speed", "out of range: %v", l.Speed)
	}
	if strings.ContainsAny(l.Comment, "|~\r\n") {
		return "", fieldError("status", "contains a reserved character")
	}

	var b strings.Builder
	b.WriteString(formatLatitude(l.Latitude))
	b.WriteByte(l.Symbol.Table)
	b.WriteString(formatLongitude(l.Longitude))
	b.WriteByte(l.Symbol.Code)
	if l.Course > 0 || l.Speed > 0 {
		fmt.Fprintf(&b, "%03d/%03d", l.Course, int(math.Round(l.Speed)))
	}
	if l.Altitude != 0 {
		alt := int(math.Round(l.Altitude))
		if alt < 0 {
			fmt.Fprintf(&b, "/A=-%05d", -alt)
		} else {
			fmt.Fprintf(&b, "/A=%06d", alt)
		}
	}
	b.WriteString(l.Comment)
	return b.String(), nil
}

// Position is a station position report without timestamp
type Position struct {
	Header
	Location
}

// Compile returns the packet text
func (p *Position) Compile() (string, error) {
	header, err := p.Header.compile()
	if err != nil {
		return "", err
	}
	loc, err := p.Location.compile()
	if err != nil {
		return "", err
	}
	return header + "!" + loc, nil
}

// Object is a named object placed on the map by Source. Killed objects tell
// receivers to remove the object.
type Object struct {
	Header
	Location
	Name      string
	Killed    bool
	Timestamp time.Time
}

// Compile returns the packet text
func (o *Object) Compile() (string, error) {
	header, err := o.Header.compile()
	if err != nil {
		return "", err
	}
	if o.Name == "" || len(o.Name) > maxObjectNameLength {
		return "", fieldError("name", "object name must be 1-%d characters", maxObjectNameLength)
	}
	for i := 0; i < len(o.Name); i++ {
		if o.Name[i] < ' ' || o.Name[i] > '~' {
			return "", fieldError("name", "non printable character in object name")
		}
	}
	loc, err := o.Location.compile()
	if err != nil {
		return "", err
	}

	state := byte('*')
	if o.Killed {
		state = '_'
	}
	ts := noTimestamp
	if !o.Timestamp.IsZero() {
		ts = o.Timestamp.UTC().Format("021504") + "z"
	}
	return fmt.Sprintf("%s;%-9s%c%s%s", header, o.Name, state, ts, loc), nil
}

func validateCallsign(field, call string) error {
	if call == "" || len(call) > maxCallsignLength {
		return fieldError(field, "callsign must be 1-%d characters", maxCallsignLength)
	}
	for _, r := range call {
		if !(r >= 'A' && r <= 'Z') && !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' {
			return fieldError(field, "invalid callsign %q", call)
		}
	}
	return nil
}

func isOverlay(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z')
}

func formatLatitude(lat float64) string {
	hemi := byte('N')
	if lat < 0 {
		hemi = 'S'
		lat = -lat
	}
	deg, mins, hund := splitDegrees(lat)
	return fmt.Sprintf("%02d%02d.%02d%c", deg, mins, hund, hemi)
}

func formatLongitude(lon float64) string {
	hemi := byte('E')
	if lon < 0 {
		hemi = 'W'
		lon = -lon
	}
	deg, mins, hund := splitDegrees(lon)
	return fmt.Sprintf("%03d%02d.%02d%c", deg, mins, hund, hemi)
}

// splitDegrees rounds to hundredths of a minute before splitting so 59.999'
// carries into the next degree instead of printing as 60.00.
func splitDegrees(v float64) (int, int, int) {
	total := int(math.Round(v * 60 * 100))
	return total / 6000, (total % 6000) / 100, total % 100
}
