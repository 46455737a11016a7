package recorder

import "time"

// voicedFrameSamples is the 20 ms analysis window used by [VoicedChunks].
const voicedFrameSamples = SampleRate / 50

// VoicedChunks splits the snapshot into runs of voiced audio and returns the
// count most recent runs of at least minDuration, oldest first.
//
// The samples are cut into 20 ms windows; a window is voiced when any of its
// samples is non-zero. Consecutive voiced windows form one run. The silence
// gaps the voice adapter leaves between transmissions are exactly zero, so no
// energy threshold is needed. A non-positive count returns nil.
func VoicedChunks(s Snapshot, count int, minDuration time.Duration) [][]int16 {
	if count <= 0 || s.Empty() {
		return nil
	}
	samples := s.Samples()
	minSamples := DurationSamples(minDuration)

	var (
		runs  [][]int16
		start = -1
	)
	flush := func(end int) {
		if start >= 0 && end-start >= minSamples && end > start {
			runs = append(runs, samples[start:end:end])
		}
		start = -1
	}

	for off := 0; off < len(samples); off += voicedFrameSamples {
		end := min(off+voicedFrameSamples, len(samples))
		if voiced(samples[off:end]) {
			if start < 0 {
				start = off
			}
			continue
		}
		flush(off)
	}
	flush(len(samples))

	if len(runs) > count {
		runs = runs[len(runs)-count:]
	}
	return runs
}

func voiced(window []int16) bool {
	for _, v := range window {
		if v != 0 {
			return true
		}
	}
	return false
}
