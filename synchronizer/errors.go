package synchronizer

import (
	"golang.org/x/xerrors"
)

// ErrProtocolViolation is returned when an inbound message breaks a
// contract the synchronizer relies on: a documentId that does not match
// the receiving DocSynchronizer's document. A malformed sync message is
// not one of these; it is logged and dropped without an error. Spec §7:
// fatal on the handler that received the message, but
// never crashes the process — callers log and drop the message.
type ErrProtocolViolation struct {
	Reason string
}

func (e *ErrProtocolViolation) Error() string {
	return "synchronizer: protocol violation: " + e.Reason
}

func newProtocolViolation(reason string) error {
	return xerrors.Errorf("synchronizer: %w", &ErrProtocolViolation{Reason: reason})
}

// ErrUnknownDocument is returned by CollectionSynchronizer.ReceiveMessage
// when it is asked to deliver a message with no documentId at all — distinct
// from an unrecognized-but-valid documentId, which just creates a new
// DocSynchronizer.
type ErrUnknownDocument struct{}

func (e *ErrUnknownDocument) Error() string {
	return "synchronizer: message carries no documentId"
}
