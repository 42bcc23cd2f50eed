package capture

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var ErrInvalidURL = errors.New("invalid source url")

// ValidateURL checks that a camera source URL is usable by the capture session.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "rtsp", "rtsps", "http", "https":
	default:
		return fmt.Errorf("%w: unsupported scheme %q (use rtsp://, http:// or https://)", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}
	return nil
}

// WithCredentials embeds username and password into the URL user info.
// Credentials already present in the URL are kept when username is empty.
func WithCredentials(raw, username, password string) string {
	if username == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if password != "" {
		u.User = url.UserPassword(username, password)
	} else {
		u.User = url.User(username)
	}
	return u.String()
}

// BuildRTSPURL assembles an RTSP URL from its parts. Port 0 means 554.
func BuildRTSPURL(host string, port int, username, password, path string) string {
	if port == 0 {
		port = 554
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{
		Scheme: "rtsp",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   path,
	}
	return WithCredentials(u.String(), username, password)
}

// RedactURL hides the password of a source URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	return u.Redacted()
}
