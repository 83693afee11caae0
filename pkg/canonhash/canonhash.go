// Package canonhash hashes values over their canonical JSON encoding.
// encoding/json sorts map keys, so two structurally equal values always
// produce the same digest. The audit log uses this to chain entries.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// SumObject returns the "sha256:<hex>" digest of v's canonical JSON encoding
// along with the encoded bytes.
func SumObject(v any) (string, []byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), b, nil
}
