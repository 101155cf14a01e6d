package sqlite

import (
	"encoding/json"

	"telegram-archive/internal/store"
)

// cachedStats wraps store.Stats for metadata-table persistence; a struct
// rather than a bare Stats so the encoding can evolve without migrating the
// metadata row's shape.
type cachedStats struct {
	Stats store.Stats `json:"stats"`
}

func marshalStats(stats store.Stats) (string, error) {
	b, err := json.Marshal(cachedStats{Stats: stats})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStats(raw string, out *cachedStats) error {
	return json.Unmarshal([]byte(raw), out)
}
