package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
	"github.com/ValentinMastro/EncodeTalker/internal/services"
)

type stubBinaries map[string]string

func (s stubBinaries) BinaryPath(name string) (string, error) {
	path, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%s not installed", name)
	}
	return path, nil
}

const probeJSON = `{
  "format": {"duration": "4.000000"},
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "h264", "width": 640, "height": 360, "r_frame_rate": "25/1", "nb_frames": "100"},
    {"index": 1, "codec_type": "audio", "codec_name": "aac", "channels": 2}
  ]
}`

// ffmpegStub writes y4m-ish bytes when asked to decode and otherwise creates
// its last argument, recording every invocation.
const ffmpegStub = `#!/bin/sh
echo "$@" >> "$(dirname "$0")/ffmpeg.log"
for last; do :; done
if [ "$last" = "-" ]; then
  printf 'YUV4MPEG2 W640 H360 F25:1\nFRAME\n'
  exit 0
fi
: > "$last"
`

const svtSuccessStub = `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-b" ]; then out="$2"; fi
  shift
done
cat > /dev/null
printf 'Svt[info]: starting\n' >&2
printf 'Encoding:    50/  100 Frames @ 25.00 fps | 800.00 kbps\r' >&2
printf 'Encoding:   100/  100 Frames @ 25.00 fps | 810.00 kbps\r' >&2
: > "$out"
`

const svtFailStub = `#!/bin/sh
echo "Svt[error]: invalid preset" >&2
exit 3
`

const svtHangStub = `#!/bin/sh
exec sleep 30
`

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}

type pipelineFixture struct {
	dir      string
	pipeline *Pipeline
	job      job.Job
}

func newPipelineFixture(t *testing.T, encoderStub string) pipelineFixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	dir := t.TempDir()
	bins := stubBinaries{
		"ffprobe":      writeStub(t, dir, "ffprobe", "#!/bin/sh\ncat <<'EOF'\n"+probeJSON+"\nEOF\n"),
		"ffmpeg":       writeStub(t, dir, "ffmpeg", ffmpegStub),
		"SvtAv1EncApp": writeStub(t, dir, "SvtAv1EncApp", encoderStub),
	}
	input := filepath.Join(dir, "movie.mkv")
	if err := os.WriteFile(input, []byte("source"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	outDir := filepath.Join(dir, "out")
	return pipelineFixture{
		dir:      dir,
		pipeline: &Pipeline{Binaries: bins},
		job:      job.New(input, filepath.Join(outDir, "movie.av1.mkv"), job.DefaultEncodingConfig()),
	}
}

func (f pipelineFixture) ffmpegCalls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, "ffmpeg.log"))
	if err != nil {
		t.Fatalf("read ffmpeg log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if ext := filepath.Ext(entry.Name()); ext == ".ivf" || ext == ".opus" || ext == ".mka" {
			t.Fatalf("temporary file left behind: %s", entry.Name())
		}
	}
}

func TestPipelineRunSuccess(t *testing.T) {
	f := newPipelineFixture(t, svtSuccessStub)
	progress := make(chan job.Stats, 16)

	if err := f.pipeline.Run(context.Background(), f.job, make(chan struct{}), progress); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(f.job.OutputPath); err != nil {
		t.Fatalf("output missing: %v", err)
	}
	assertNoTempFiles(t, filepath.Dir(f.job.OutputPath))

	var last job.Stats
	count := 0
	for len(progress) > 0 {
		last = <-progress
		count++
	}
	if count == 0 {
		t.Fatal("expected progress updates")
	}
	if last.Frame != 100 || last.ProgressPercent != 100 {
		t.Fatalf("last progress = %+v", last)
	}

	calls := f.ffmpegCalls(t)
	if len(calls) != 3 {
		t.Fatalf("ffmpeg calls = %d, want decode, audio and mux: %q", len(calls), calls)
	}
	if !strings.Contains(calls[1], "-c:a libopus -b:a") {
		t.Fatalf("audio call = %q", calls[1])
	}
	if !strings.Contains(calls[2], "-map 0:v:0 -map 1:a -c:v copy -c:a copy") {
		t.Fatalf("mux call = %q", calls[2])
	}
}

func TestPipelineRunDropsProgressWhenChannelFull(t *testing.T) {
	f := newPipelineFixture(t, svtSuccessStub)
	progress := make(chan job.Stats)

	if err := f.pipeline.Run(context.Background(), f.job, make(chan struct{}), progress); err != nil {
		t.Fatalf("Run must not block on an unread progress channel: %v", err)
	}
}

func TestPipelineRunEncoderFailure(t *testing.T) {
	f := newPipelineFixture(t, svtFailStub)

	err := f.pipeline.Run(context.Background(), f.job, make(chan struct{}), nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("err = %v, want external tool error", err)
	}
	if !strings.Contains(err.Error(), "invalid preset") {
		t.Fatalf("error should carry encoder diagnostics: %v", err)
	}
	if _, statErr := os.Stat(f.job.OutputPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("output should not exist after failure: %v", statErr)
	}
	assertNoTempFiles(t, filepath.Dir(f.job.OutputPath))
}

func TestPipelineRunCancel(t *testing.T) {
	f := newPipelineFixture(t, svtHangStub)
	cancel := make(chan struct{})
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(cancel)
	}()

	started := time.Now()
	err := f.pipeline.Run(context.Background(), f.job, cancel, nil)
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Fatalf("cancel took %s", elapsed)
	}
	if services.OutcomeStatus(err) != job.StatusCancelled {
		t.Fatalf("outcome = %s", services.OutcomeStatus(err))
	}
	assertNoTempFiles(t, filepath.Dir(f.job.OutputPath))
}

func TestPipelineRunContextCancel(t *testing.T) {
	f := newPipelineFixture(t, svtHangStub)
	ctx, stop := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer stop()

	if err := f.pipeline.Run(ctx, f.job, make(chan struct{}), nil); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want cancellation", err)
	}
}

func TestPipelineRejectsUnknownAudioStream(t *testing.T) {
	f := newPipelineFixture(t, svtSuccessStub)
	f.job.Config.AudioStreams = []int{3}

	err := f.pipeline.Run(context.Background(), f.job, make(chan struct{}), nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if _, statErr := os.Stat(filepath.Join(f.dir, "ffmpeg.log")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("no tool should run after a failed selection check")
	}
}

func TestPipelineMissingBinary(t *testing.T) {
	p := &Pipeline{Binaries: stubBinaries{}}
	j := job.New("in.mkv", "out.mkv", job.DefaultEncodingConfig())
	if err := p.Run(context.Background(), j, nil, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}
