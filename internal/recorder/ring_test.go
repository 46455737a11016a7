package recorder

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// frameAt returns a 20 ms frame stamped at t0+i*20ms whose samples all equal
// int16(i), so tests can tell frames apart after eviction.
func frameAt(i int) Frame {
	samples := make([]int16, DurationSamples(20*time.Millisecond))
	for j := range samples {
		samples[j] = int16(i)
	}
	return Frame{At: t0.Add(time.Duration(i) * 20 * time.Millisecond), Samples: samples}
}

func TestRingBuffer_RetainsLastDuration(t *testing.T) {
	t.Parallel()

	b := NewRingBuffer(3*time.Second, 20*time.Millisecond)
	for i := range 250 { // 5 s
		if err := b.Write(frameAt(i)); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}

	snap := b.Snapshot()
	if snap.Len() != 150 {
		t.Fatalf("Len = %d, want 150", snap.Len())
	}
	if snap.Duration() != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", snap.Duration())
	}
	for i, f := range snap.Frames() {
		if want := int16(100 + i); f.Samples[0] != want {
			t.Fatalf("frame %d holds %d, want %d", i, f.Samples[0], want)
		}
	}
}

func TestRingBuffer_EvictsByCumulativeDuration(t *testing.T) {
	t.Parallel()

	b := NewRingBuffer(100*time.Millisecond, 20*time.Millisecond)
	long := Frame{At: t0, Samples: make([]int16, DurationSamples(60*time.Millisecond))}
	if err := b.Write(long); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 2; i++ {
		if err := b.Write(frameAt(i)); err != nil {
			t.Fatal(err)
		}
	}
	if got := b.Retained(); got != 100*time.Millisecond {
		t.Fatalf("Retained = %v, want 100ms", got)
	}

	// One more 20 ms frame no longer fits next to the 60 ms one.
	if err := b.Write(frameAt(3)); err != nil {
		t.Fatal(err)
	}
	if got := b.Len(); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}
	if got := b.Retained(); got != 60*time.Millisecond {
		t.Errorf("Retained = %v, want 60ms", got)
	}
}

func TestRingBuffer_GrowsForShortFrames(t *testing.T) {
	t.Parallel()

	b := NewRingBuffer(100*time.Millisecond, 20*time.Millisecond)
	short := DurationSamples(10 * time.Millisecond)
	for i := range 10 {
		f := Frame{At: t0.Add(time.Duration(i) * 10 * time.Millisecond), Samples: make([]int16, short)}
		f.Samples[0] = int16(i)
		if err := b.Write(f); err != nil {
			t.Fatal(err)
		}
	}
	snap := b.Snapshot()
	if snap.Len() != 10 {
		t.Fatalf("Len = %d, want 10", snap.Len())
	}
	for i, f := range snap.Frames() {
		if f.Samples[0] != int16(i) {
			t.Fatalf("frame %d out of order: %d", i, f.Samples[0])
		}
	}
}

func TestRingBuffer_RejectsFrameLongerThanLimit(t *testing.T) {
	t.Parallel()

	b := NewRingBuffer(20*time.Millisecond, 20*time.Millisecond)
	f := Frame{At: t0, Samples: make([]int16, DurationSamples(40*time.Millisecond))}
	if err := b.Write(f); !errors.Is(err, ErrFrameTooLong) {
		t.Fatalf("err = %v, want ErrFrameTooLong", err)
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
}

func TestRingBuffer_ClampsOutOfOrderTimestamps(t *testing.T) {
	t.Parallel()

	b := NewRingBuffer(time.Second, 20*time.Millisecond)
	for _, i := range []int{5, 3, 7, 6} {
		if err := b.Write(frameAt(i)); err != nil {
			t.Fatal(err)
		}
	}
	var prev time.Time
	for f := range b.Snapshot().All() {
		if f.At.Before(prev) {
			t.Fatalf("timestamp %v before %v", f.At, prev)
		}
		prev = f.At
	}
	if got, want := b.LastWrite(), frameAt(7).At; !got.Equal(want) {
		t.Errorf("LastWrite = %v, want %v", got, want)
	}
}

func TestRingBuffer_SnapshotIsStable(t *testing.T) {
	t.Parallel()

	b := NewRingBuffer(time.Second, 20*time.Millisecond)
	for i := range 60 {
		_ = b.Write(frameAt(i))
	}
	a, c := b.Snapshot(), b.Snapshot()
	if !slices.EqualFunc(a.Frames(), c.Frames(), func(x, y Frame) bool {
		return x.At.Equal(y.At) && slices.Equal(x.Samples, y.Samples)
	}) {
		t.Fatal("snapshots without an intervening write differ")
	}

	// Iterating twice yields the same sequence.
	first, second := 0, 0
	for range a.All() {
		first++
	}
	for range a.All() {
		second++
	}
	if first != second || first != a.Len() {
		t.Errorf("iterations = %d, %d; want %d", first, second, a.Len())
	}
}

func TestRingBuffer_IsStale(t *testing.T) {
	t.Parallel()

	b := NewRingBuffer(time.Second, 20*time.Millisecond)
	_ = b.Write(Frame{At: t0, Samples: []int16{1}})

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"just written", t0, false},
		{"at expiration", t0.Add(time.Minute), false},
		{"past expiration", t0.Add(time.Minute + time.Nanosecond), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.IsStale(tt.now, time.Minute); got != tt.want {
				t.Errorf("IsStale = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRingBuffer_WriteFreshDiscardsStaleAudio(t *testing.T) {
	t.Parallel()

	b := NewRingBuffer(time.Second, 20*time.Millisecond)
	_ = b.Write(frameAt(0))
	_ = b.Write(frameAt(1))

	late := frameAt(2)
	late.At = t0.Add(10 * time.Minute)
	discarded, err := b.writeFresh(late, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !discarded {
		t.Fatal("expected stale audio to be discarded")
	}
	if b.Len() != 1 {
		t.Errorf("Len = %d, want 1", b.Len())
	}
}

func TestRingBuffer_WriteFreshConcurrent(t *testing.T) {
	t.Parallel()

	b := NewRingBuffer(time.Second, 20*time.Millisecond)
	_ = b.Write(frameAt(0))

	const writers = 8
	var (
		wg        sync.WaitGroup
		discarded atomic.Int32
	)
	for i := range writers {
		wg.Go(func() {
			f := frameAt(i)
			f.At = t0.Add(10*time.Minute + time.Duration(i)*time.Millisecond)
			d, err := b.writeFresh(f, 5*time.Minute)
			if err != nil {
				t.Errorf("writeFresh: %v", err)
			}
			if d {
				discarded.Add(1)
			}
		})
	}
	wg.Wait()

	if n := discarded.Load(); n != 1 {
		t.Errorf("%d writers discarded audio, want 1", n)
	}
	if b.Len() != writers {
		t.Errorf("Len = %d, want %d", b.Len(), writers)
	}
}

func TestSnapshot_Chunks(t *testing.T) {
	t.Parallel()

	b := NewRingBuffer(time.Second, 20*time.Millisecond)
	for i := range 10 { // 200 ms
		_ = b.Write(frameAt(i))
	}
	snap := b.Snapshot()

	tests := []struct {
		name    string
		maxSpan time.Duration
		want    []int
	}{
		{"even split", 100 * time.Millisecond, []int{5, 5}},
		{"remainder", 60 * time.Millisecond, []int{3, 3, 3, 1}},
		{"span smaller than frame", 5 * time.Millisecond, []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}},
		{"unbounded", 0, []int{10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := snap.Chunks(tt.maxSpan)
			got := make([]int, len(chunks))
			total := 0
			for i, c := range chunks {
				got[i] = c.Len()
				total += c.Len()
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("chunk sizes = %v, want %v", got, tt.want)
			}
			if total != snap.Len() {
				t.Errorf("chunks cover %d frames, want %d", total, snap.Len())
			}
		})
	}
}

func TestSnapshot_Samples(t *testing.T) {
	t.Parallel()

	b := NewRingBuffer(time.Second, 20*time.Millisecond)
	_ = b.Write(Frame{At: t0, Samples: []int16{1, 2}})
	_ = b.Write(Frame{At: t0.Add(time.Millisecond), Samples: []int16{3}})
	if got := b.Snapshot().Samples(); !slices.Equal(got, []int16{1, 2, 3}) {
		t.Errorf("Samples = %v, want [1 2 3]", got)
	}
	if !(Snapshot{}).Start().IsZero() {
		t.Error("empty snapshot Start should be zero")
	}
}
