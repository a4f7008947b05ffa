package display

import (
	"encoding/json"
	"os"
)

// CompactEnv switches MarshalJSON to single-line output
const CompactEnv = "DMYPYLS_JSON_COMPACT"

// MarshalJSON indents for people, or emits one line when CompactEnv is set
func MarshalJSON(v any) ([]byte, error) {
	if os.Getenv(CompactEnv) != "" {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
