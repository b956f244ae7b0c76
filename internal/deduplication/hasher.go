package deduplication

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"lukechampine.com/blake3"

	"mailflow/pkg/models"
)

// Hasher fingerprints a mail for one recipient. Two submissions of the
// same message to the same recipient share a fingerprint regardless of
// their mail ids.
type Hasher struct {
	algorithm string
}

func NewHasher(algorithm string) *Hasher {
	return &Hasher{algorithm: algorithm}
}

func (h *Hasher) newHash() hash.Hash {
	if h.algorithm == "sha256" {
		return sha256.New()
	}
	return blake3.New(32, nil)
}

func (h *Hasher) Fingerprint(mail *models.Mail, recipient models.Address) string {
	sum := h.newHash()

	write := func(s string) {
		_, _ = io.WriteString(sum, s)
		_, _ = sum.Write([]byte{0})
	}

	write(mail.SenderString())
	write(recipient.Key())

	if mail.Content != nil {
		// A Message-Id identifies the message; without one the whole
		// content is hashed.
		if id := mail.Content.Header.Get("Message-Id"); id != "" {
			write(id)
		} else {
			_, _ = sum.Write(mail.Content.Bytes())
		}
	}

	return hex.EncodeToString(sum.Sum(nil))
}
