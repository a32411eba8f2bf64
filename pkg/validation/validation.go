package validation

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"strings"
	"syscall"

	"github.com/rivo/uniseg"
)

// MaxMessageGraphemes caps text bodies and captions at what WhatsApp accepts.
const MaxMessageGraphemes = 65536

var (
	ErrRecipientRequired = errors.New("number is required")
	ErrMessageRequired   = errors.New("message is required")
	ErrPrivateHost       = errors.New("private/local network URLs are not allowed")

	phonePattern = regexp.MustCompile(`^[1-9][0-9]{0,19}$`)
)

// ValidateRecipient accepts either a phone number in international format
// (digits only, optional leading +, no leading 0) or a full user@server JID.
func ValidateRecipient(number string) error {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ErrRecipientRequired
	}
	if user, server, ok := strings.Cut(trimmed, "@"); ok {
		if user == "" || server == "" {
			return errors.New("number must be a phone number or a user@server address")
		}
		return nil
	}
	trimmed = strings.TrimPrefix(trimmed, "+")
	if strings.HasPrefix(trimmed, "0") {
		return errors.New("number must be in international format without leading 0")
	}
	if !phonePattern.MatchString(trimmed) {
		return errors.New("number must contain digits only")
	}
	return nil
}

// ValidateMessage requires a non-blank body within the grapheme limit.
func ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrMessageRequired
	}
	if uniseg.GraphemeClusterCount(message) > MaxMessageGraphemes {
		return errors.New("message is too long")
	}
	return nil
}

// ValidateURL ensures a non-empty absolute http(s) URL.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("url cannot be empty")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return errors.New("url must be valid")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url must use http or https")
	}
	return nil
}

// PublicIP reports whether ip is reachable outside the host's own networks.
func PublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast())
}

// ValidatePublicHost rejects localhost and IP literals outside the public
// range. Names are not resolved here; dial through DialControl for that.
func ValidatePublicHost(host string) error {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return errors.New("url must have a host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return ErrPrivateHost
	}
	if ip := net.ParseIP(host); ip != nil && !PublicIP(ip) {
		return ErrPrivateHost
	}
	return nil
}

// DialControl is a net.Dialer Control hook. It runs after name resolution,
// so it also catches public names pointing at private addresses.
func DialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !PublicIP(ip) {
		return ErrPrivateHost
	}
	return nil
}

// ValidateImageType only lets image/* mime types through.
func ValidateImageType(mimeType string) error {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/") {
		return errors.New("only image files are allowed")
	}
	return nil
}
