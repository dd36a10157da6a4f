// Package docid defines the opaque identifiers the core synchronizer
// operates on: DocumentId and PeerId, plus the automerge:-style document
// URL format.
package docid

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// DocumentId is an opaque 16-byte document identifier. Equality is byte
// equality.
type DocumentId [16]byte

// PeerId is an opaque short string identifying a remote participant.
// Uniqueness within a repo is assumed; collisions are undefined behavior.
type PeerId string

const urlScheme = "automerge:"

// NewDocumentId generates a fresh, random DocumentId.
func NewDocumentId() DocumentId {
	var id DocumentId
	u := uuid.New()
	copy(id[:], u[:])
	return id
}

// String renders the DocumentId in its external Base58Check form, without
// the automerge: scheme prefix.
func (d DocumentId) String() string {
	return encodeBase58Check(d[:])
}

// URL renders the full automerge:<base58check> document URL.
func (d DocumentId) URL() string {
	return urlScheme + d.String()
}

// IsZero reports whether d is the zero-valued DocumentId.
func (d DocumentId) IsZero() bool {
	return d == DocumentId{}
}

// ErrInvalidUrl is returned synchronously from ParseURL on malformed input.
// Spec §7: InvalidUrl is thrown synchronously from find.
type ErrInvalidUrl struct {
	URL    string
	Reason string
}

func (e *ErrInvalidUrl) Error() string {
	return fmt.Sprintf("invalid document url %q: %s", e.URL, e.Reason)
}

// ParseURL parses an automerge:<base58check(documentId)> URL. Legacy UUID
// strings (the pre-Base58Check external form) are detected and
// auto-converted; deprecated reports whether that legacy path was taken so
// callers can log a deprecation warning.
func ParseURL(raw string) (DocumentId, bool, error) {
	trimmed := strings.TrimSpace(raw)

	if looksLikeUUID(trimmed) {
		u, err := uuid.Parse(trimmed)
		if err != nil {
			return DocumentId{}, false, &ErrInvalidUrl{URL: raw, Reason: err.Error()}
		}
		var id DocumentId
		copy(id[:], u[:])
		return id, true, nil
	}

	body, ok := strings.CutPrefix(trimmed, urlScheme)
	if !ok {
		return DocumentId{}, false, &ErrInvalidUrl{URL: raw, Reason: "missing automerge: scheme"}
	}

	id, err := decodeBase58Check(body)
	if err != nil {
		return DocumentId{}, false, &ErrInvalidUrl{URL: raw, Reason: err.Error()}
	}
	return id, false, nil
}

func looksLikeUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

// encodeBase58Check appends a 4-byte checksum (first 4 bytes of a double
// SHA-256, mirroring the Bitcoin base58check convention) before Base58
// encoding, so a typo in a pasted document URL is caught locally instead
// of resolving to a different, valid-looking document.
func encodeBase58Check(payload []byte) string {
	checksum := checksum4(payload)
	full := append(append([]byte{}, payload...), checksum...)
	return base58.Encode(full)
}

func decodeBase58Check(s string) (DocumentId, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return DocumentId{}, fmt.Errorf("base58 decode: %w", err)
	}
	if len(raw) != 16+4 {
		return DocumentId{}, fmt.Errorf("decoded length %d, want 20", len(raw))
	}
	payload, want := raw[:16], raw[16:]
	got := checksum4(payload)
	for i := range got {
		if got[i] != want[i] {
			return DocumentId{}, fmt.Errorf("checksum mismatch")
		}
	}
	var id DocumentId
	copy(id[:], payload)
	return id, nil
}

func checksum4(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}
