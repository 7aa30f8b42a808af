// ABOUTME: Resolves a caller's role in a conversation and fingerprints public keys
// ABOUTME: Role lookup happens once per request and yields a typed client/counterparty value

package conversation

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/2389/workroom-gateway/internal/store"
)

// Party is the caller's resolved position in a conversation.
type Party struct {
	Role  store.Role
	Self  string // caller principal ID
	Other string // the opposite party
}

// resolveParty returns the caller's role, or false when the caller is not one
// of the two parties.
func resolveParty(c *store.Conversation, principalID string) (Party, bool) {
	switch principalID {
	case "":
		return Party{}, false
	case c.ClientID:
		return Party{Role: store.RoleClient, Self: c.ClientID, Other: c.CounterpartyID}, true
	case c.CounterpartyID:
		return Party{Role: store.RoleCounterparty, Self: c.CounterpartyID, Other: c.ClientID}, true
	}
	return Party{}, false
}

// IsParty reports whether principalID is one of the conversation's two parties.
func IsParty(c *store.Conversation, principalID string) bool {
	_, ok := resolveParty(c, principalID)
	return ok
}

// Fingerprint returns a short BLAKE2b digest of a public key for display and audit.
func Fingerprint(publicKey string) string {
	sum := blake2b.Sum256([]byte(publicKey))
	return hex.EncodeToString(sum[:16])
}

func fingerprintPtr(key *string) string {
	if key == nil {
		return ""
	}
	return Fingerprint(*key)
}
