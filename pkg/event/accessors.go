// Field accessors for trigger events. Each returns the first non-empty value
// of its fallback chain; absence is never an error.
package event

import "strings"

// UnknownPeer is reported when no network source can be determined.
const UnknownPeer = "Unknown"

// first returns the first non-empty candidate.
func first(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if c != "" {
			return c, true
		}
	}
	return "", false
}

func (e *Event) requestContext() *RequestContext {
	if e == nil || e.RequestContext == nil {
		return &RequestContext{}
	}
	return e.RequestContext
}

func (e *Event) http() *HTTP {
	rc := e.requestContext()
	if rc.HTTP == nil {
		return &HTTP{}
	}
	return rc.HTTP
}

func (e *Event) identity() *Identity {
	rc := e.requestContext()
	if rc.Identity == nil {
		return &Identity{}
	}
	return rc.Identity
}

// HasHeaders reports whether the payload carried any header mapping.
func (e *Event) HasHeaders() bool {
	return e != nil && (e.Headers != nil || e.MultiValueHeaders != nil)
}

// Header returns a header value, ignoring case. Single-value headers win over
// the first entry of a multi-value header.
func (e *Event) Header(name string) string {
	if e == nil {
		return ""
	}
	if v := e.Headers.Get(name); v != "" {
		return v
	}
	for k, vs := range e.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

// HeaderMap returns all headers with lower-cased keys.
func (e *Event) HeaderMap() map[string]string {
	if e == nil {
		return nil
	}
	out := make(map[string]string, len(e.Headers)+len(e.MultiValueHeaders))
	for k, vs := range e.MultiValueHeaders {
		if len(vs) > 0 {
			out[strings.ToLower(k)] = vs[0]
		}
	}
	for k, v := range e.Headers {
		out[k] = v
	}
	return out
}

// Method returns the HTTP method of the request.
func (e *Event) Method() (string, bool) {
	var top string
	if e != nil {
		top = e.HTTPMethod
	}
	return first(e.http().Method, top, e.requestContext().HTTPMethod)
}

// Protocol returns the lower-cased URL scheme, derived from the request
// protocol ("HTTP/1.1" -> "http") or the x-forwarded-proto header.
func (e *Event) Protocol() (string, bool) {
	var proto string
	if p := e.http().Protocol; p != "" {
		name, _, _ := strings.Cut(p, "/")
		proto = strings.ToLower(name)
	}
	return first(proto, e.Header("x-forwarded-proto"))
}

// Port returns the x-forwarded-port header or empty.
func (e *Event) Port() string {
	return e.Header("x-forwarded-port")
}

// Host returns the host header, falling back to the gateway domain name.
func (e *Event) Host() string {
	host, _ := first(e.Header("host"), e.requestContext().DomainName)
	return host
}

// HostPort joins host and port. A missing host yields the port alone.
func (e *Event) HostPort() string {
	host, port := e.Host(), e.Port()
	switch {
	case host != "" && port != "":
		return host + ":" + port
	case host != "":
		return host
	default:
		return port
	}
}

// Operation returns the request path used as the span operation name. When the
// payload carries no path the function name is used, and "/" as a last resort.
func (e *Event) Operation(functionName string) string {
	var rawPath, path string
	if e != nil {
		rawPath, path = e.RawPath, e.Path
	}
	if op, ok := first(e.http().Path, rawPath, path); ok {
		return op
	}
	if functionName != "" {
		return "/" + functionName
	}
	return "/"
}

// Query returns the query string including its leading '?', or empty.
func (e *Event) Query() string {
	if e == nil {
		return ""
	}
	if e.RawQueryString != "" {
		return "?" + e.RawQueryString
	}
	if e.QueryStringParameters != nil {
		return "?" + e.QueryStringParameters.Encode()
	}
	return ""
}

// Peer returns the network source of the request, or UnknownPeer.
func (e *Event) Peer() string {
	peer, _ := first(e.http().SourceIP, e.identity().SourceIP, e.Header("x-forwarded-for"), UnknownPeer)
	return peer
}

// RequestID returns the gateway request id, if any.
func (e *Event) RequestID() string {
	return e.requestContext().RequestID
}
