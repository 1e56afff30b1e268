package whatsapp

import (
	"fmt"
	"strings"
)

const (
	UserServer  = "s.whatsapp.net"
	GroupServer = "g.us"

	// StatusBroadcast is the pseudo-target for status updates.
	StatusBroadcast = "status@broadcast"
)

// NormalizePhone keeps only the digits of a phone number.
func NormalizePhone(phone string) string {
	var sb strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// NormalizeJID turns a bare phone number into a user JID. Values that
// already carry a server part are returned trimmed and unchanged.
func NormalizeJID(to string) (string, error) {
	to = strings.TrimSpace(to)
	if strings.Contains(to, "@") {
		return to, nil
	}
	digits := NormalizePhone(to)
	if digits == "" {
		return "", fmt.Errorf("invalid recipient %q", to)
	}
	return digits + "@" + UserServer, nil
}

func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+GroupServer)
}

// PhoneFromJID returns the user part of a JID without its device suffix.
func PhoneFromJID(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	user, _, _ = strings.Cut(user, ".")
	return user
}
