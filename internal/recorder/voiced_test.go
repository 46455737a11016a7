package recorder

import (
	"testing"
	"time"
)

// voicedSnapshot builds a snapshot from a pattern of 20 ms windows where
// true is speech and false is silence.
func voicedSnapshot(t *testing.T, pattern []bool) Snapshot {
	t.Helper()
	b := NewRingBuffer(time.Minute, 20*time.Millisecond)
	for i, speech := range pattern {
		f := Frame{At: t0.Add(time.Duration(i) * 20 * time.Millisecond), Samples: make([]int16, voicedFrameSamples)}
		if speech {
			f.Samples[voicedFrameSamples/2] = int16(i + 1)
		}
		if err := b.Write(f); err != nil {
			t.Fatal(err)
		}
	}
	return b.Snapshot()
}

func TestVoicedChunks(t *testing.T) {
	t.Parallel()

	// Runs: [0,1] (40 ms), [4] (20 ms), [6,7,8] (60 ms).
	pattern := []bool{true, true, false, false, true, false, true, true, true, false}
	snap := voicedSnapshot(t, pattern)

	tests := []struct {
		name     string
		count    int
		min      time.Duration
		wantLens []int
	}{
		{"all runs", 10, 0, []int{2, 1, 3}},
		{"most recent two", 2, 0, []int{1, 3}},
		{"minimum duration drops short runs", 10, 40 * time.Millisecond, []int{2, 3}},
		{"zero count", 0, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := VoicedChunks(snap, tt.count, tt.min)
			if len(chunks) != len(tt.wantLens) {
				t.Fatalf("got %d chunks, want %d", len(chunks), len(tt.wantLens))
			}
			for i, c := range chunks {
				if want := tt.wantLens[i] * voicedFrameSamples; len(c) != want {
					t.Errorf("chunk %d has %d samples, want %d", i, len(c), want)
				}
			}
		})
	}
}

func TestVoicedChunks_Chronological(t *testing.T) {
	t.Parallel()

	snap := voicedSnapshot(t, []bool{true, false, true, false, true})
	chunks := VoicedChunks(snap, 2, 0)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	// Markers are window index + 1, so the last two runs carry 3 and 5.
	if got := chunks[0][voicedFrameSamples/2]; got != 3 {
		t.Errorf("first chunk marker = %d, want 3", got)
	}
	if got := chunks[1][voicedFrameSamples/2]; got != 5 {
		t.Errorf("second chunk marker = %d, want 5", got)
	}
}

func TestVoicedChunks_AllSilence(t *testing.T) {
	t.Parallel()

	snap := voicedSnapshot(t, []bool{false, false, false})
	if got := VoicedChunks(snap, 5, 0); len(got) != 0 {
		t.Errorf("got %d chunks from silence, want 0", len(got))
	}
}
