// Package event decodes HTTP gateway trigger payloads delivered to a function.
// Both the 2.0 HTTP API shape and the older 1.0 REST shape are accepted; every
// field is optional.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Event is a gateway trigger payload. The zero value is a valid, empty event.
type Event struct {
	Headers               Headers             `json:"headers"`
	MultiValueHeaders     map[string][]string `json:"multiValueHeaders"`
	RequestContext        *RequestContext     `json:"requestContext"`
	HTTPMethod            string              `json:"httpMethod"`
	Path                  string              `json:"path"`
	RawPath               string              `json:"rawPath"`
	RawQueryString        string              `json:"rawQueryString"`
	QueryStringParameters Params              `json:"queryStringParameters"`
}

// RequestContext is the gateway's description of the inbound request.
type RequestContext struct {
	DomainName string    `json:"domainName"`
	RequestID  string    `json:"requestId"`
	HTTP       *HTTP     `json:"http"`
	HTTPMethod string    `json:"httpMethod"`
	Identity   *Identity `json:"identity"`
}

// HTTP holds the request line details of a 2.0 payload.
type HTTP struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	Protocol  string `json:"protocol"`
	SourceIP  string `json:"sourceIp"`
	UserAgent string `json:"userAgent"`
}

// Identity holds caller identity of a 1.0 payload.
type Identity struct {
	SourceIP string `json:"sourceIp"`
}

// Parse decodes a JSON trigger payload. Only malformed JSON is an error; a
// member of an unexpected type reads as absent.
func Parse(data []byte) (*Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return &Event{}, nil
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decoding trigger event: %w", err)
	}
	return &ev, nil
}

// UnmarshalJSON decodes each member independently so one mistyped member
// does not discard the rest of the event.
func (e *Event) UnmarshalJSON(data []byte) error {
	m := members(data)
	*e = Event{
		HTTPMethod:     text(m["httpMethod"]),
		Path:           text(m["path"]),
		RawPath:        text(m["rawPath"]),
		RawQueryString: text(m["rawQueryString"]),
	}
	if v, ok := m["headers"]; ok {
		_ = e.Headers.UnmarshalJSON(v)
	}
	if v, ok := m["multiValueHeaders"]; ok {
		e.MultiValueHeaders = multiValue(v)
	}
	if v, ok := m["queryStringParameters"]; ok {
		_ = e.QueryStringParameters.UnmarshalJSON(v)
	}
	if v, ok := m["requestContext"]; ok && isObject(v) {
		e.RequestContext = &RequestContext{}
		_ = e.RequestContext.UnmarshalJSON(v)
	}
	return nil
}

// UnmarshalJSON decodes the request context leniently.
func (rc *RequestContext) UnmarshalJSON(data []byte) error {
	m := members(data)
	*rc = RequestContext{
		DomainName: text(m["domainName"]),
		RequestID:  text(m["requestId"]),
		HTTPMethod: text(m["httpMethod"]),
	}
	if v, ok := m["http"]; ok && isObject(v) {
		h := members(v)
		rc.HTTP = &HTTP{
			Method:    text(h["method"]),
			Path:      text(h["path"]),
			Protocol:  text(h["protocol"]),
			SourceIP:  text(h["sourceIp"]),
			UserAgent: text(h["userAgent"]),
		}
	}
	if v, ok := m["identity"]; ok && isObject(v) {
		rc.Identity = &Identity{SourceIP: text(members(v)["sourceIp"])}
	}
	return nil
}

// Headers is a case-insensitive header mapping. Keys are stored lower-cased.
type Headers map[string]string

// Get returns the value for name, ignoring case.
func (h Headers) Get(name string) string {
	return h[strings.ToLower(name)]
}

// UnmarshalJSON lower-cases keys and renders non-string values as JSON text.
// Null values are dropped. Anything other than an object leaves h nil.
func (h *Headers) UnmarshalJSON(data []byte) error {
	raw := members(data)
	if raw == nil {
		*h = nil
		return nil
	}
	out := make(Headers, len(raw))
	for k, v := range raw {
		if isNull(v) {
			continue
		}
		out[strings.ToLower(k)] = scalarText(v)
	}
	*h = out
	return nil
}

// Param is one query string parameter.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered query parameter mapping. It keeps the order in which
// keys appeared in the payload. A nil Params means the mapping was absent; an
// empty non-nil Params means it was present but empty.
type Params []Param

// UnmarshalJSON decodes a JSON object keeping key order. Anything other than
// an object leaves p nil.
func (p *Params) UnmarshalJSON(data []byte) error {
	if !isObject(data) {
		*p = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("query parameters: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("query parameters: expected object, got %v", tok)
	}

	out := Params{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("query parameters: %w", err)
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("query parameters: %q: %w", key, err)
		}
		v := scalarText(value)
		if isNull(value) {
			v = "null"
		}
		out = append(out, Param{Key: key, Value: v})
	}
	*p = out
	return nil
}

// Encode renders the parameters as key=value pairs joined by '&', without
// escaping, in their original order.
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(kv.Key)
		b.WriteByte('=')
		b.WriteString(kv.Value)
	}
	return b.String()
}

// members returns the members of a JSON object, or nil for any other value.
func members(data []byte) map[string]json.RawMessage {
	if !isObject(data) {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// multiValue decodes a mapping of header lists. Entries that are not lists
// are skipped and null list items dropped.
func multiValue(data []byte) map[string][]string {
	m := members(data)
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		var items []json.RawMessage
		if err := json.Unmarshal(v, &items); err != nil {
			continue
		}
		values := make([]string, 0, len(items))
		for _, item := range items {
			if !isNull(item) {
				values = append(values, scalarText(item))
			}
		}
		out[k] = values
	}
	return out
}

// text returns a string member, or empty for a member of any other type.
func text(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func isObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// scalarText returns strings unquoted and anything else as its compact JSON text.
func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
