package ids

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultServerID is the reserved id of the implicit server. It is accepted
// anywhere a server id is expected.
const DefaultServerID = "00000000-0000-0000-0000-000000000000"

// dmNamespace seeds the deterministic DM channel ids.
var dmNamespace = uuid.MustParse("8f4c1d2e-6b3a-5c7d-9e0f-1a2b3c4d5e6f")

// Valid reports whether id is a canonical 36 character uuid.
func Valid(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Canonical returns the lower case form of a valid id and id unchanged
// otherwise.
func Canonical(id string) string {
	u, err := uuid.Parse(id)
	if err != nil {
		return id
	}
	return u.String()
}

// ValidServer accepts the sentinel server id or any valid uuid.
func ValidServer(id string) bool {
	return id == DefaultServerID || Valid(id)
}

// AllValid reports whether every id in the list is valid.
func AllValid(list []string) bool {
	for _, id := range list {
		if !Valid(id) {
			return false
		}
	}
	return true
}

// New returns a fresh random id.
func New() string {
	return uuid.NewString()
}

// PairKey is the order independent key of an unordered participant pair.
func PairKey(a, b string) string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// DMChannelID derives the channel id for a DM between a and b on serverID.
// Both orderings of the pair map to the same id.
func DMChannelID(serverID, a, b string) string {
	return uuid.NewSHA1(dmNamespace, []byte(strings.ToLower(serverID)+"|"+PairKey(a, b))).String()
}
