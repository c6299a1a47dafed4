package cachestore

import (
	"encoding/json"
	"errors"
	"net/http"
)

// entryVersion is the current layout of stored metadata entries.
// Version 1 wraps the variant map in an envelope; earlier deployments
// stored the bare map, which decodeVariants upgrades on read.
const entryVersion = 1

// VariantRecord describes one stored variant of a URL's response.
type VariantRecord struct {
	// Vary holds the header names the response varies on, as sent by
	// the origin. Empty for the non-varying record.
	Vary []string `json:"vary,omitempty"`
	// Headers are the response headers minus Age.
	Headers http.Header `json:"headers"`
	Status  int         `json:"status"`
	// URI is stored for debugging only and never used for lookups.
	URI string `json:"uri"`
	// Content holds the response body inline. Only set when content
	// digesting is disabled; otherwise the body lives in a shared
	// content digest entry referenced from Headers.
	Content []byte `json:"content,omitempty"`
}

type entryEnvelope struct {
	Version  int                       `json:"v"`
	Variants map[string]*VariantRecord `json:"variants"`
}

var errBadEntry = errors.New("cachestore: unreadable metadata entry")

func encodeVariants(variants map[string]*VariantRecord) ([]byte, error) {
	return json.Marshal(entryEnvelope{Version: entryVersion, Variants: variants})
}

// decodeVariants decodes a stored metadata entry, migrating legacy
// payloads (a bare vary-key to record map, with no envelope) on read.
func decodeVariants(raw []byte) (map[string]*VariantRecord, error) {
	var env entryEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Version >= 1 && env.Variants != nil {
		return env.Variants, nil
	}
	var legacy map[string]*VariantRecord
	if err := json.Unmarshal(raw, &legacy); err != nil || legacy == nil {
		return nil, errBadEntry
	}
	for _, rec := range legacy {
		if rec == nil {
			return nil, errBadEntry
		}
	}
	return legacy, nil
}
