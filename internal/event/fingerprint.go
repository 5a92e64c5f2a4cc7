package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint derives the deduplication key for an event from its kind,
// primary id and canonical payload serialization. Timestamps are not part
// of the payload, so two frames differing only in receive time collapse
// to the same fingerprint while any payload change produces a new one.
func Fingerprint(e *Event) string {
	h := sha256.New()
	h.Write([]byte(e.Kind))
	h.Write([]byte{0})
	h.Write([]byte(e.PrimaryID))
	h.Write([]byte{0})

	// encoding/json marshals struct fields in declaration order, which
	// makes this serialization canonical for the typed payload.
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		// Payload variants are plain data structs; marshal cannot fail
		// for them. Fall back to the empty payload if it ever does.
		payload = []byte("{}")
	}
	h.Write(payload)

	return hex.EncodeToString(h.Sum(nil))[:16]
}
