package transcode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Compile-time interface assertion.
var _ Converter = (*FFmpeg)(nil)

// maxStderr bounds how much ffmpeg diagnostic output is kept for errors.
const maxStderr = 2048

// demuxers maps file extensions that are not themselves ffmpeg demuxer names.
var demuxers = map[string]string{
	"m4a":  "mov",
	"mp4":  "mov",
	"aac":  "aac",
	"oga":  "ogg",
	"opus": "ogg",
	"weba": "webm",
}

// FFmpeg converts any container ffmpeg understands by piping the file
// through a subprocess that writes raw target-layout PCM to stdout.
type FFmpeg struct {
	path    string
	timeout time.Duration
}

// FFmpegOption is a functional option for [NewFFmpeg].
type FFmpegOption func(*FFmpeg)

// WithTimeout bounds a single ffmpeg run. Defaults to 30 seconds.
func WithTimeout(d time.Duration) FFmpegOption {
	return func(f *FFmpeg) { f.timeout = d }
}

// NewFFmpeg returns a converter that runs the binary at path, which may be a
// bare name resolved through PATH.
func NewFFmpeg(path string, opts ...FFmpegOption) *FFmpeg {
	f := &FFmpeg{path: path, timeout: 30 * time.Second}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Path returns the configured binary.
func (f *FFmpeg) Path() string { return f.path }

// Available reports whether the binary can be found. It is used as a
// readiness check.
func (f *FFmpeg) Available(context.Context) error {
	if _, err := exec.LookPath(f.path); err != nil {
		return fmt.Errorf("transcode: ffmpeg not found: %w", err)
	}
	return nil
}

// args builds the command line for a source with extension ext.
func (f *FFmpeg) args(ext string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if ext != "" {
		demux := ext
		if d, ok := demuxers[ext]; ok {
			demux = d
		}
		args = append(args, "-f", demux)
	}
	return append(args,
		"-i", "pipe:0",
		"-c:a", "pcm_s16le",
		"-f", "s16le",
		"-ac", fmt.Sprint(Channels),
		"-ar", fmt.Sprint(SampleRate),
		"pipe:1",
	)
}

// Convert implements [Converter]. A non-zero exit status, empty output or an
// odd number of output bytes is a failure.
func (f *FFmpeg) Convert(ctx context.Context, src Source, format Format) ([]byte, error) {
	in, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConversionFailed, src.Path, err)
	}
	defer in.Close()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var stdout bytes.Buffer
	stderr := &capped{max: maxStderr}
	cmd := exec.CommandContext(ctx, f.path, f.args(src.Ext)...)
	cmd.Stdin = in
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: ffmpeg %s: %w", ErrConversionFailed, src.ID, ctxErr)
		}
		return nil, fmt.Errorf("%w: ffmpeg %s: %v: %s", ErrConversionFailed, src.ID, err, strings.TrimSpace(stderr.String()))
	}
	pcm := stdout.Bytes()
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: ffmpeg %s: produced %d bytes", ErrConversionFailed, src.ID, len(pcm))
	}
	slog.Debug("transcode: ffmpeg finished",
		"sound_id", src.ID,
		"ext", src.Ext,
		"bytes", len(pcm),
		"elapsed", time.Since(start),
	)
	return Package(pcm, format)
}

// capped is an io.Writer that keeps the first max bytes and discards the rest.
type capped struct {
	buf bytes.Buffer
	max int
}

func (c *capped) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		c.buf.Write(p[:min(room, len(p))])
	}
	return len(p), nil
}

func (c *capped) String() string { return c.buf.String() }
