package whatsapp

import (
	"errors"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// UserServerSuffix is appended to bare phone numbers.
const UserServerSuffix = "@" + types.DefaultUserServer

var ErrInvalidAddress = errors.New("invalid whatsapp address")

// ParseAddress turns "1555@s.whatsapp.net", "+1555" or a group id into a JID.
func ParseAddress(address string) (types.JID, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return types.EmptyJID, ErrInvalidAddress
	}
	if strings.ContainsRune(address, '@') {
		jid, err := types.ParseJID(strings.TrimPrefix(address, "+"))
		if err != nil || jid.User == "" {
			return types.EmptyJID, ErrInvalidAddress
		}
		return jid, nil
	}

	user := DecomposeAddress(address)
	if user == "" {
		return types.EmptyJID, ErrInvalidAddress
	}
	if strings.ContainsRune(user, '-') || len(user) >= 18 {
		return types.NewJID(user, types.GroupServer), nil
	}
	return types.NewJID(user, types.DefaultUserServer), nil
}

// DecomposeAddress returns the user part without server or leading plus.
func DecomposeAddress(address string) string {
	if user, _, found := strings.Cut(address, "@"); found {
		address = user
	}
	address = strings.TrimSpace(address)
	return strings.TrimPrefix(address, "+")
}
