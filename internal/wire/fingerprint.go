package wire

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Domain separation prefixes for fingerprints.
const (
	DomainPayload = "streamsync/payload/v1"
)

// fingerprintWithDomain computes BLAKE3(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func fingerprintWithDomain(domain string, data []byte) string {
	h := blake3.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns the content fingerprint of an event: its kind and
// payload bytes. The ingest ledger stores it to spot retries that reuse an
// eventId with different content.
func Fingerprint(kind string, payload []byte) string {
	data := make([]byte, 0, len(kind)+1+len(payload))
	data = append(data, kind...)
	data = append(data, 0x00)
	data = append(data, payload...)
	return fingerprintWithDomain(DomainPayload, data)
}
