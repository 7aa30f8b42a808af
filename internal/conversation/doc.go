// Package conversation implements the encrypted conversation core.
//
// # Overview
//
// A conversation is the two-party channel opened when a proposal is accepted.
// The server never sees plaintext: it stores public keys and ciphertext
// envelopes as opaque blobs and relays them between the parties.
//
//	svc := conversation.New(store, router, conversation.Options{}, logger)
//
// # Parties and Roles
//
// Every operation resolves the caller once into a Party with a typed Role
// (client or counterparty). Callers that are not one of the two parties get
// not_found, the same as for a missing conversation.
//
// # Key Exchange
//
// SubmitPublicKey fills the caller's slot. A different key for a filled slot
// needs rotate=true and is audited as key_rotated. When both slots are set
// the other party receives encryption_ready.
//
// # Messages
//
// SendMessage appends an envelope with status sent. If the recipient holds a
// live channel the message becomes delivered immediately and the sender gets
// message_delivered. The recipient always gets encrypted_message.
//
// Delivery state only moves forward:
//
//	sent -> delivered -> read
//
// MarkDelivered and MarkRead are idempotent. MarkRead sends a single
// messages_read event per call, and only when something changed.
//
// An optional idempotency key deduplicates retries: first through an
// in-memory window, then through a unique index in the store.
//
// # Audit
//
// Security-relevant actions append to the conversation's audit log with the
// request origin and client descriptor taken from the context
// (WithRequestMeta). Audit and notification failures are logged and never
// fail the operation that triggered them.
//
// # Errors
//
// Every failure is an *Error with a Kind:
//
//   - not_found, invalid_state, invalid_input, forbidden, conflict, internal
//
// Use KindOf to classify an error at the transport boundary.
package conversation
