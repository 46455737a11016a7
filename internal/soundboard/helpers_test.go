package soundboard

import (
	"context"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

// seed adds sounds named after their IDs, created one second apart.
func seed(t *testing.T, store Store, session string, ids ...string) {
	t.Helper()
	for i, id := range ids {
		snd := &Sound{
			ID:           id,
			Session:      session,
			Name:         id,
			Color:        ColorBlue,
			SourcePath:   id + ".wav",
			SourceFormat: "wav",
			CreatedAt:    t0.Add(time.Duration(i) * time.Second),
		}
		if err := store.Add(context.Background(), snd); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}
