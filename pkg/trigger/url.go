package trigger

import (
	"fmt"
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// composeURL joins the request parts and normalises them as a URL: the host is
// lower-cased and a scheme's default port is dropped. Parts that do not form
// a valid URL are rejected.
func composeURL(proto, hostport, path, query string) (string, error) {
	raw := proto + "://" + hostport + path + query
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("composing request url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("composing request url: %q has no host", raw)
	}
	u.Host = strings.ToLower(u.Host)
	if port := u.Port(); port != "" && defaultPorts[u.Scheme] == port {
		u.Host = strings.TrimSuffix(u.Host, ":"+port)
	}
	return u.String(), nil
}
