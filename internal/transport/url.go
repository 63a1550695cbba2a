package transport

import (
	"errors"
	"net/url"
	"strings"
)

var errBadScheme = errors.New("endpoint base must be http(s) or ws(s)")

// EndpointURL joins a console base URL with an endpoint path, mapping
// http(s) schemes to their WebSocket equivalents.
func EndpointURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errBadScheme
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
