package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/LucaDeLeo/realitycam/internal/security"
)

func decodeBase64(s string) ([]byte, error) {
	if err := security.ValidateBase64String(s); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(s)
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	if err := security.ValidateHexString(s, 64); err != nil {
		return out, err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// stripJSONField re-serializes payload with the named top-level field
// removed and keys sorted, matching the canonical form
// assertion.CaptureHashOnlyClientDataHash signs over: the signature
// itself can never be part of what it signs, and key order must be
// deterministic between client and server.
func stripJSONField(payload []byte, field string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	delete(m, field)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(m[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
