package mixer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/mixer"
)

// segment returns n one-byte frames tagged with id.
func segment(id byte, n int) []audio.Frame {
	frames := make([]audio.Frame, n)
	for i := range frames {
		frames[i] = audio.Frame{Data: []byte{id}, SampleRate: 48000, Channels: 1}
	}
	return frames
}

// collect reads out until it is closed and returns the frame tags in order.
func collect(out <-chan audio.Frame, delay time.Duration) func() []byte {
	var (
		mu   sync.Mutex
		tags []byte
	)
	go func() {
		for f := range out {
			mu.Lock()
			tags = append(tags, f.Data[0])
			mu.Unlock()
			time.Sleep(delay)
		}
	}()
	return func() []byte {
		mu.Lock()
		defer mu.Unlock()
		return append([]byte(nil), tags...)
	}
}

func switches(tags []byte) int {
	n := 0
	for i := 1; i < len(tags); i++ {
		if tags[i] != tags[i-1] {
			n++
		}
	}
	return n
}

func newQueue(t *testing.T, out chan<- audio.Frame) *mixer.Queue {
	t.Helper()
	q := mixer.New(out)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestQueue_ConcurrentPlaysDoNotInterleave(t *testing.T) {
	t.Parallel()

	out := make(chan audio.Frame)
	got := collect(out, time.Millisecond)
	q := newQueue(t, out)

	var wg sync.WaitGroup
	for _, id := range []byte{1, 2, 3} {
		wg.Go(func() {
			if err := q.Play(context.Background(), segment(id, 10)); err != nil {
				t.Errorf("Play(%d): %v", id, err)
			}
		})
	}
	wg.Wait()

	tags := got()
	// The last frame is handed over before Play returns but may not be
	// recorded yet.
	if len(tags) < 29 {
		t.Fatalf("received %d frames, want at least 29", len(tags))
	}
	if n := switches(tags); n != 2 {
		t.Errorf("frame sources %v switch %d times, want 2", tags, n)
	}
}

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	out := make(chan audio.Frame)
	q := newQueue(t, out)

	first := make(chan error, 1)
	go func() { first <- q.Play(context.Background(), segment(1, 2)) }()
	// Hold the first segment on its first frame until the second is queued.
	f := <-out
	second := make(chan error, 1)
	go func() { second <- q.Play(context.Background(), segment(2, 1)) }()
	for q.Len() < 2 {
		time.Sleep(time.Millisecond)
	}

	tags := []byte{f.Data[0], (<-out).Data[0], (<-out).Data[0]}
	if string(tags) != "\x01\x01\x02" {
		t.Errorf("order = %v, want [1 1 2]", tags)
	}
	for _, ch := range []chan error{first, second} {
		if err := <-ch; err != nil {
			t.Errorf("Play: %v", err)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after drain, want 0", q.Len())
	}
}

func TestQueue_CancelWhileQueued(t *testing.T) {
	t.Parallel()

	out := make(chan audio.Frame)
	q := newQueue(t, out)

	blocker := make(chan error, 1)
	go func() { blocker <- q.Play(context.Background(), segment(1, 2)) }()
	<-out

	ctx, cancel := context.WithCancel(context.Background())
	waiting := make(chan error, 1)
	go func() { waiting <- q.Play(ctx, segment(2, 5)) }()
	for q.Len() < 2 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-waiting; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled Play = %v, want context.Canceled", err)
	}

	if f := <-out; f.Data[0] != 1 {
		t.Errorf("next frame from segment %d, want 1", f.Data[0])
	}
	if err := <-blocker; err != nil {
		t.Errorf("Play: %v", err)
	}
	select {
	case f := <-out:
		t.Errorf("cancelled segment %d still played", f.Data[0])
	case <-time.After(20 * time.Millisecond):
	}
}

func TestQueue_CancelMidPlay(t *testing.T) {
	t.Parallel()

	out := make(chan audio.Frame)
	q := newQueue(t, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Play(ctx, segment(1, 10)) }()
	<-out
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Play = %v, want context.Canceled", err)
	}

	// The queue moves on to the next segment.
	next := make(chan error, 1)
	go func() { next <- q.Play(context.Background(), segment(2, 1)) }()
	for {
		f := <-out
		if f.Data[0] == 2 {
			break
		}
	}
	if err := <-next; err != nil {
		t.Errorf("Play: %v", err)
	}
}

func TestQueue_Close(t *testing.T) {
	t.Parallel()

	out := make(chan audio.Frame)
	q := mixer.New(out)

	playing := make(chan error, 1)
	go func() { playing <- q.Play(context.Background(), segment(1, 3)) }()
	<-out
	queued := make(chan error, 1)
	go func() { queued <- q.Play(context.Background(), segment(2, 3)) }()
	for q.Len() < 2 {
		time.Sleep(time.Millisecond)
	}

	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for name, ch := range map[string]chan error{"playing": playing, "queued": queued} {
		if err := <-ch; !errors.Is(err, mixer.ErrClosed) {
			t.Errorf("%s Play = %v, want ErrClosed", name, err)
		}
	}
	if err := q.Play(context.Background(), segment(3, 1)); !errors.Is(err, mixer.ErrClosed) {
		t.Errorf("Play after Close = %v, want ErrClosed", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
