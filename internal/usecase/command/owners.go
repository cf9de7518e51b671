package command

import (
	"strings"
	"unicode"
)

// OwnerSet matches sender IDs against configured owners. Owners may be given
// as phone numbers ("+62 812-3456") or full user IDs; both reduce to the
// user part without device suffix.
type OwnerSet map[string]struct{}

// NewOwnerSet builds a set from config entries. Empty entries are ignored.
func NewOwnerSet(owners []string) OwnerSet {
	s := make(OwnerSet, len(owners))
	for _, o := range owners {
		if k := ownerKey(o); k != "" {
			s[k] = struct{}{}
		}
	}
	return s
}

// Contains reports whether id belongs to an owner.
func (s OwnerSet) Contains(id string) bool {
	k := ownerKey(id)
	if k == "" {
		return false
	}
	_, ok := s[k]
	return ok
}

// ownerKey reduces "628123:4@s.whatsapp.net" and "+62 8123" to "628123".
func ownerKey(id string) string {
	user := strings.TrimSpace(id)
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}

	digits := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsDigit(r):
			return r
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')':
			return -1
		default:
			return r
		}
	}, user)
	return strings.ToLower(digits)
}
