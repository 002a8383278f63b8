//go:build unix

package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

// ffmpegHangStub records its pid and never finishes decoding.
const ffmpegHangStub = `#!/bin/sh
echo "$@" >> "$(dirname "$0")/ffmpeg.log"
for last; do :; done
if [ "$last" = "-" ]; then
  echo $$ > "$(dirname "$0")/decoder.pid"
  exec sleep 30
fi
: > "$last"
`

// ffprobeSlowCountStub answers the metadata query without nb_frames and
// hangs on the precise count.
const ffprobeSlowCountStub = `#!/bin/sh
case "$*" in
  *-count_frames*) exec sleep 30 ;;
esac
cat <<'JSON'
{
  "format": {"duration": "4.000000"},
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "h264", "width": 640, "height": 360, "r_frame_rate": "25/1"}
  ]
}
JSON
`

func TestPipelineCancelKillsDecoder(t *testing.T) {
	f := newPipelineFixture(t, svtHangStub)
	writeStub(t, f.dir, "ffmpeg", ffmpegHangStub)
	pidPath := filepath.Join(f.dir, "decoder.pid")

	cancel := make(chan struct{})
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if data, err := os.ReadFile(pidPath); err == nil && len(strings.TrimSpace(string(data))) > 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		close(cancel)
	}()

	err := f.pipeline.Run(context.Background(), f.job, cancel, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want cancellation", err)
	}

	data, readErr := os.ReadFile(pidPath)
	if readErr != nil {
		t.Fatalf("decoder never started: %v", readErr)
	}
	pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if convErr != nil {
		t.Fatalf("bad pid %q: %v", data, convErr)
	}
	if err := syscall.Kill(pid, 0); err == nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
		t.Fatalf("decoder %d still running after Run returned", pid)
	}
	assertNoTempFiles(t, filepath.Dir(f.job.OutputPath))
}

func TestPipelineCancelDuringPreciseCountSpawnsNothing(t *testing.T) {
	f := newPipelineFixture(t, svtSuccessStub)
	writeStub(t, f.dir, "ffprobe", ffprobeSlowCountStub)
	f.pipeline.PreciseFrameCount = true
	f.pipeline.PreciseTimeout = time.Minute

	cancel := make(chan struct{})
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(cancel)
	}()

	started := time.Now()
	err := f.pipeline.Run(context.Background(), f.job, cancel, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Fatalf("cancel took %s", elapsed)
	}
	if _, statErr := os.Stat(filepath.Join(f.dir, "ffmpeg.log")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("ffmpeg must not start once the job is cancelled during probing")
	}
}
