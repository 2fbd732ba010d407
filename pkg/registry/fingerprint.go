package registry

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes a serialized component state into a short stable
// token. The state is canonicalized first (decoded and re-encoded, which
// sorts object keys), so two encodings of the same state always produce the
// same fingerprint regardless of field order.
//
// The fingerprint detects staleness: a client operating on state whose
// fingerprint no longer matches the registry's must resynchronize before
// its events are accepted.
func Fingerprint(state json.RawMessage) string {
	canon, err := canonicalize(state)
	if err != nil {
		// Not canonicalizable means not valid JSON; hash the raw bytes so
		// the caller still gets a stable token to compare against.
		canon = state
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(canon))
}

func canonicalize(state json.RawMessage) ([]byte, error) {
	if len(state) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(state, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
