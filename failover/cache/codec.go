package cache

import "encoding/json"

// encodeValue serializes a value to the provider-agnostic text form stored
// in either provider. Values that are already textual pass through verbatim;
// everything else is JSON-encoded. A write may land on one provider and a
// later read (after failover) may be served by the other, so the stored form
// must never depend on which provider holds it.
func encodeValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	return string(raw), nil
}

// decodeValue attempts to JSON-decode stored text, falling back to the raw
// string when it is not valid JSON (e.g. values written verbatim).
func decodeValue(raw string) any {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw
	}

	return decoded
}
