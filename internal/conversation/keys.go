// ABOUTME: Key exchange: each party fills its own public key slot
// ABOUTME: Replacing a stored key requires an explicit rotate flag and is audited separately

package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/workroom-gateway/internal/store"
)

// KeyExchangeResult reports the state after a key submission.
type KeyExchangeResult struct {
	ConversationID  string     `json:"conversation_id"`
	Role            store.Role `json:"role"`
	Fingerprint     string     `json:"fingerprint"`
	EncryptionReady bool       `json:"encryption_ready"`
	Rotated         bool       `json:"rotated"`
}

// SubmitPublicKey stores the caller's public key in the slot for its role.
// The key is an opaque blob. Resubmitting the stored key is a no-op; a
// different key is rejected unless rotate is set.
func (s *Service) SubmitPublicKey(ctx context.Context, conversationID, callerID, publicKey string, rotate bool) (*KeyExchangeResult, error) {
	c, party, err := s.loadParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	if publicKey == "" {
		return nil, errInvalidInput("public_key is required")
	}

	previous := c.PublicKey(party.Role)
	if previous != nil && *previous == publicKey {
		return &KeyExchangeResult{
			ConversationID:  c.ID,
			Role:            party.Role,
			Fingerprint:     Fingerprint(publicKey),
			EncryptionReady: c.EncryptionReady(),
		}, nil
	}

	// The store reports the key it actually replaced; the read above may be stale.
	replaced, err := s.store.SetPublicKey(ctx, c.ID, party.Role, publicKey, rotate)
	if errors.Is(err, store.ErrKeyConflict) {
		return nil, errInvalidState("a public key is already registered for this party; set rotate to replace it")
	}
	if err != nil {
		return nil, s.storeError(err, "conversation")
	}
	if replaced != nil && *replaced == publicKey {
		// A concurrent submission stored the same key first.
		current, err := s.store.GetConversation(ctx, c.ID)
		if err != nil {
			return nil, s.storeError(err, "conversation")
		}
		return &KeyExchangeResult{
			ConversationID:  c.ID,
			Role:            party.Role,
			Fingerprint:     Fingerprint(publicKey),
			EncryptionReady: current.EncryptionReady(),
		}, nil
	}

	rotated := replaced != nil
	action := store.AuditKeyExchanged
	if rotated {
		action = store.AuditKeyRotated
	}
	fp := Fingerprint(publicKey)
	s.Record(ctx, c.ID, action, callerID, fmt.Sprintf("role=%s fingerprint=%s", party.Role, fp))

	// Readiness comes from a fresh read: the other party may have written
	// its slot concurrently.
	current, err := s.store.GetConversation(ctx, c.ID)
	if err != nil {
		return nil, s.storeError(err, "conversation")
	}
	ready := current.EncryptionReady()

	s.logger.Info("public key stored",
		"conversation_id", c.ID,
		"principal_id", callerID,
		"role", party.Role,
		"rotated", rotated,
		"encryption_ready", ready)

	if ready {
		s.notifier.Notify(ctx, party.Other, EventEncryptionReady, map[string]any{
			"conversation_id": c.ID,
			"from":            callerID,
			"role":            party.Role,
			"public_key":      publicKey,
			"fingerprint":     fp,
			"rotated":         rotated,
		})
	}

	return &KeyExchangeResult{
		ConversationID:  c.ID,
		Role:            party.Role,
		Fingerprint:     fp,
		EncryptionReady: ready,
		Rotated:         rotated,
	}, nil
}
