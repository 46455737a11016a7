package audio_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

func TestBytesSamplesRoundTrip(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, 32767, -32768}
	if got := audio.BytesToSamples(audio.SamplesToBytes(in)); !slices.Equal(got, in) {
		t.Errorf("round trip = %v, want %v", got, in)
	}
	if got := audio.BytesToSamples([]byte{0x64, 0x00, 0xFF}); !slices.Equal(got, []int16{100}) {
		t.Errorf("trailing byte not ignored: %v", got)
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{"stereo", []int16{100, 200, -100, -200}, 2, []int16{150, -150}},
		{"no overflow", []int16{32767, 32767, -32768, -32768}, 2, []int16{32767, -32768}},
		{"mono passthrough", []int16{1, 2, 3}, 1, []int16{1, 2, 3}},
		{"partial frame dropped", []int16{10, 20, 30}, 2, []int16{15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.Downmix(tt.in, tt.channels); !slices.Equal(got, tt.want) {
				t.Errorf("Downmix = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStereoMonoBytes(t *testing.T) {
	t.Parallel()

	mono := audio.SamplesToBytes([]int16{100, 200})
	stereo := audio.MonoToStereo(mono)
	if got := audio.BytesToSamples(stereo); !slices.Equal(got, []int16{100, 100, 200, 200}) {
		t.Errorf("MonoToStereo = %v", got)
	}
	if got := audio.StereoToMono(stereo); !slices.Equal(got, mono) {
		t.Errorf("StereoToMono did not invert MonoToStereo")
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		channels int
		src, dst int
		wantLen  int
	}{
		{"same rate", []int16{1, 2, 3}, 1, 48000, 48000, 3},
		{"upsample mono", []int16{1000, 2000}, 1, 16000, 48000, 6},
		{"downsample mono", []int16{1, 2, 3, 4, 5, 6}, 1, 48000, 16000, 2},
		{"upsample stereo", []int16{100, 200, 300, 400}, 2, 16000, 48000, 12},
		{"zero source rate", []int16{1, 2}, 1, 0, 48000, 2},
		{"negative destination rate", []int16{1, 2}, 1, 48000, -1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Resample(tt.in, tt.channels, tt.src, tt.dst)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestResample_InterpolatesEndpoints(t *testing.T) {
	t.Parallel()

	got := audio.Resample([]int16{1000, 2000}, 1, 16000, 48000)
	if got[0] != 1000 {
		t.Errorf("first sample = %d, want 1000", got[0])
	}
	if last := got[len(got)-1]; last < 1800 || last > 2200 {
		t.Errorf("last sample = %d, want close to 2000", last)
	}
}

func TestConvertSamples_StereoDownToMono48k(t *testing.T) {
	t.Parallel()

	src := audio.Format{SampleRate: 24000, Channels: 2}
	dst := audio.Format{SampleRate: 48000, Channels: 1}
	got := audio.ConvertSamples([]int16{100, 300, 100, 300}, src, dst)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for i, s := range got {
		if s != 200 {
			t.Errorf("sample %d = %d, want 200", i, s)
		}
	}
}

func TestFormatConverter(t *testing.T) {
	t.Parallel()

	t.Run("matching format is returned unchanged", func(t *testing.T) {
		t.Parallel()
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
		frame := audio.Frame{Data: audio.SamplesToBytes([]int16{100, 200}), SampleRate: 48000, Channels: 2}
		result := conv.Convert(frame)
		if &result.Data[0] != &frame.Data[0] {
			t.Error("expected the same backing slice for a matching format")
		}
	})

	t.Run("mono to stereo", func(t *testing.T) {
		t.Parallel()
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
		result := conv.Convert(audio.Frame{
			Data:       audio.SamplesToBytes([]int16{100, 200, 300}),
			SampleRate: 48000,
			Channels:   1,
			Timestamp:  time.Second,
		})
		if got := result.Samples(); !slices.Equal(got, []int16{100, 100, 200, 200, 300, 300}) {
			t.Errorf("samples = %v", got)
		}
		if result.Channels != 2 || result.Timestamp != time.Second {
			t.Errorf("unexpected frame header: %+v", result)
		}
	})

	t.Run("misaligned frame is dropped", func(t *testing.T) {
		t.Parallel()
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
		for _, f := range []audio.Frame{
			{Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 1},
			{Data: []byte{1, 2}, SampleRate: 48000, Channels: 2},
			{Data: []byte{1, 2}, SampleRate: 48000, Channels: 0},
		} {
			result := conv.Convert(f)
			if len(result.Data) != 0 {
				t.Errorf("expected empty data, got %d bytes", len(result.Data))
			}
			if result.SampleRate != 48000 || result.Channels != 1 {
				t.Errorf("dropped frame should carry target format, got %dHz %dch", result.SampleRate, result.Channels)
			}
		}
	})
}

func TestConvertStream(t *testing.T) {
	t.Parallel()

	in := make(chan audio.Frame, 3)
	out := audio.ConvertStream(in, audio.Format{SampleRate: 48000, Channels: 1})

	in <- audio.Frame{Data: audio.SamplesToBytes([]int16{100, 300}), SampleRate: 48000, Channels: 2}
	in <- audio.Frame{Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 1}
	in <- audio.Frame{Data: audio.SamplesToBytes([]int16{7, 8}), SampleRate: 48000, Channels: 1}
	close(in)

	var got [][]int16
	for f := range out {
		got = append(got, f.Samples())
	}
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if !slices.Equal(got[0], []int16{200}) {
		t.Errorf("frame 0 = %v, want [200]", got[0])
	}
	if !slices.Equal(got[1], []int16{7, 8}) {
		t.Errorf("frame 1 = %v, want [7 8]", got[1])
	}
}

func TestFrame_Duration(t *testing.T) {
	t.Parallel()

	f := audio.Frame{Data: make([]byte, 960*2*2), SampleRate: 48000, Channels: 2}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration = %v, want 20ms", got)
	}
	if got := (audio.Frame{Data: make([]byte, 4)}).Duration(); got != 0 {
		t.Errorf("Duration without format = %v, want 0", got)
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()

	tests := map[audio.Format]string{
		{SampleRate: 48000, Channels: 1}: "48000Hz mono",
		{SampleRate: 48000, Channels: 2}: "48000Hz stereo",
		{SampleRate: 44100, Channels: 6}: "44100Hz 6ch",
	}
	for f, want := range tests {
		if got := f.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
