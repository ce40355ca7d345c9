// Package anonymizer applies the privacy transform every record must
// pass through before it can leave the ingestion process.
package anonymizer

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/neurostream-systems/neurostream/internal/model"
)

// Config controls the privacy transform. The salt is process-wide and
// rotated out of band; it is not owned by this component.
type Config struct {
	Salt              string
	MetadataDenyList  []string
	CoarsenTimestamps bool
	CoarsenTo         time.Duration
}

// Anonymizer replaces device identity with a salted one-way hash,
// strips deny-listed metadata, and optionally coarsens timestamps.
// The transform is deterministic for a fixed salt and input, which
// keeps dispatcher retries idempotent.
type Anonymizer struct {
	salt    []byte
	deny    map[string]struct{}
	coarsen time.Duration
}

// New creates an anonymizer. The salt is required; blake2b keyed
// hashing rejects keys longer than 64 bytes.
func New(cfg Config) (*Anonymizer, error) {
	if cfg.Salt == "" {
		return nil, fmt.Errorf("anonymizer salt is required")
	}
	if len(cfg.Salt) > 64 {
		return nil, fmt.Errorf("anonymizer salt exceeds 64 bytes")
	}
	deny := make(map[string]struct{}, len(cfg.MetadataDenyList))
	for _, k := range cfg.MetadataDenyList {
		deny[k] = struct{}{}
	}
	coarsen := cfg.CoarsenTo
	if cfg.CoarsenTimestamps && coarsen <= 0 {
		coarsen = time.Second
	}
	if !cfg.CoarsenTimestamps {
		coarsen = 0
	}
	return &Anonymizer{salt: []byte(cfg.Salt), deny: deny, coarsen: coarsen}, nil
}

// Anonymize returns an anonymized copy of the record. Re-anonymizing an
// already-anonymized record is a no-op returning the record unchanged.
// Only malformed input fails.
func (a *Anonymizer) Anonymize(rec *model.NeuralRecord) (*model.NeuralRecord, error) {
	if rec == nil {
		return nil, &model.MalformedRecordError{Reason: "nil record"}
	}
	if !rec.Validated {
		return nil, &model.MalformedRecordError{Reason: "record not validated"}
	}
	if rec.Anonymized {
		return rec, nil
	}

	out := rec.Clone()
	out.DeviceID = a.HashDeviceID(rec.DeviceID)
	for k := range a.deny {
		delete(out.Metadata, k)
	}
	if a.coarsen > 0 {
		out.TimestampStart = out.TimestampStart.Truncate(a.coarsen)
	}
	out.Anonymized = true
	return out, nil
}

// HashDeviceID maps a raw device identifier to its salted pseudonym.
func (a *Anonymizer) HashDeviceID(deviceID string) string {
	h, err := blake2b.New256(a.salt)
	if err != nil {
		// Salt length is checked in New; this cannot happen at runtime.
		panic(fmt.Sprintf("blake2b init: %v", err))
	}
	h.Write([]byte(deviceID))
	return "dev-" + hex.EncodeToString(h.Sum(nil))[:24]
}
