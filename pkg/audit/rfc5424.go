package audit

import (
	"strconv"
	"strings"
	"time"
)

// Facility is an RFC 5424 facility code.
type Facility int

const (
	FacUser     Facility = 1
	FacAuth     Facility = 4
	FacAuthpriv Facility = 10
	FacLocal0   Facility = 16
)

// SDParam is one name="value" pair of a structured data element.
type SDParam struct {
	Name  string
	Value string
}

// SDElement is a structured data element such as [usufruit ...].
type SDElement struct {
	ID     string
	Params []SDParam
}

// Message is one RFC 5424 record. Empty header fields are written as the
// NILVALUE "-".
type Message struct {
	Facility  Facility
	Severity  Severity
	Timestamp time.Time
	Hostname  string
	AppName   string
	ProcessID string
	MessageID string // event type, e.g. "loan.borrowed"
	SD        []SDElement
	Text      string
}

// Header field limits from RFC 5424 section 6.
const (
	maxHostname  = 255
	maxAppName   = 48
	maxProcessID = 128
	maxMessageID = 32
)

const rfc5424Time = "2006-01-02T15:04:05.000Z"

var sdValueEscaper = strings.NewReplacer(`"`, `\"`, `\`, `\\`, `]`, `\]`)

// FormatMessage encodes m in RFC 5424 wire format without a trailing
// newline.
func FormatMessage(m Message) []byte {
	buf := make([]byte, 0, 384)
	buf = append(buf, '<')
	buf = strconv.AppendInt(buf, int64(int(m.Facility)*8+int(m.Severity)), 10)
	buf = append(buf, ">1 "...)

	if m.Timestamp.IsZero() {
		buf = append(buf, '-')
	} else {
		buf = m.Timestamp.UTC().AppendFormat(buf, rfc5424Time)
	}

	buf = appendHeader(buf, m.Hostname, maxHostname)
	buf = appendHeader(buf, m.AppName, maxAppName)
	buf = appendHeader(buf, m.ProcessID, maxProcessID)
	buf = appendHeader(buf, m.MessageID, maxMessageID)

	buf = append(buf, ' ')
	if len(m.SD) == 0 {
		buf = append(buf, '-')
	}
	for _, el := range m.SD {
		buf = append(buf, '[')
		buf = append(buf, el.ID...)
		for _, p := range el.Params {
			buf = append(buf, ' ')
			buf = append(buf, p.Name...)
			buf = append(buf, '=', '"')
			buf = append(buf, sdValueEscaper.Replace(p.Value)...)
			buf = append(buf, '"')
		}
		buf = append(buf, ']')
	}

	if m.Text != "" {
		buf = append(buf, ' ')
		buf = append(buf, m.Text...)
	}
	return buf
}

// appendHeader appends a space and a header field cut to limit bytes.
// Header fields allow only visible ASCII; anything else becomes '_'.
func appendHeader(buf []byte, v string, limit int) []byte {
	buf = append(buf, ' ')
	if v == "" {
		return append(buf, '-')
	}
	if len(v) > limit {
		v = v[:limit]
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < '!' || c > '~' {
			c = '_'
		}
		buf = append(buf, c)
	}
	return buf
}
