package pb

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes as a 0x-prefixed hex string, matching the VM host's
// wire convention for byte fields (rather than encoding/json's default
// base64 for []byte).
func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(h))
}

// UnmarshalJSON decodes a 0x-prefixed (or bare) hex string.
func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("servermanager/pb: HexBytes: %w", err)
	}
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("servermanager/pb: HexBytes: %w", err)
	}
	*h = b
	return nil
}
