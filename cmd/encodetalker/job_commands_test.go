package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
	"github.com/ValentinMastro/EncodeTalker/internal/testsupport"
)

func TestAddListCancelAndHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := testsupport.BaseDir(env.cfg)
	first := filepath.Join(dir, "first.mkv")
	second := filepath.Join(dir, "second.mkv")

	out, _, err := runCLI(t, []string{"add", first}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("add first: %v", err)
	}
	requireContains(t, out, "Queued job")
	requireContains(t, out, env.cfg.OutputPathFor(first))

	waitFor(t, 3*time.Second, func() bool { return len(env.queue.ListActive()) == 1 })

	out, _, err = runCLI(t, []string{"add", second, filepath.Join(dir, "custom.mkv"), "--crf", "40", "--audio", "copy"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	requireContains(t, out, "crf 40")
	requireContains(t, out, "Copy")

	out, _, err = runCLI(t, []string{"active"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	requireContains(t, out, "first.mkv")
	requireContains(t, out, "Running")

	out, _, err = runCLI(t, []string{"queue"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	requireContains(t, out, "second.mkv")

	queued := env.queue.ListQueue()
	if len(queued) != 1 {
		t.Fatalf("expected one queued job, got %d", len(queued))
	}
	prefix := queued[0].ID.String()[:6]

	out, _, err = runCLI(t, []string{"cancel", prefix}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, out, "Cancelled job "+queued[0].ShortID())

	out, _, err = runCLI(t, []string{"history"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "second.mkv")
	requireContains(t, out, "Cancelled")

	out, _, err = runCLI(t, []string{"history", "clear"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("history clear: %v", err)
	}
	requireContains(t, out, "Cleared 1 jobs")

	out, _, err = runCLI(t, []string{"queue"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	requireContains(t, out, "Queue is empty")
}

func TestShowRunningJob(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(testsupport.BaseDir(env.cfg), "movie.mkv")

	if _, _, err := runCLI(t, []string{"add", input, "--encoder", "aom", "--threads", "4", "--audio-streams", "0,2"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		active := env.queue.ListActive()
		return len(active) == 1 && active[0].Stats != nil && active[0].Stats.Frame > 0
	})
	id := env.queue.ListActive()[0].ID

	out, _, err := runCLI(t, []string{"show", id.String()[:8]}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, id.String())
	requireContains(t, out, "libaom AV1")
	requireContains(t, out, "Threads:    4")
	requireContains(t, out, "streams: 0,2")
	requireContains(t, out, "250 / 1000")
	requireContains(t, out, "25.0%")
}

func TestRetryRejectsNonFailedJob(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(testsupport.BaseDir(env.cfg), "clip.mkv")
	if _, _, err := runCLI(t, []string{"add", input}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return len(env.queue.ListActive()) == 1 })
	id := env.queue.ListActive()[0].ID

	_, _, err := runCLI(t, []string{"retry", id.String()}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "not failed") {
		t.Fatalf("expected not-failed error, got %v", err)
	}
}

func TestUnknownPrefixFails(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"show", "ffffffff"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "no job matches") {
		t.Fatalf("expected no match error, got %v", err)
	}
}

func TestBuildEncodingConfigAppliesOnlyChangedFlags(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cmd := newAddCommand(newCommandContext(new(string), new(string)))
	if err := cmd.ParseFlags([]string{"--preset", "8", "--param=--tune=0", "--audio", "custom", "--audio-codec", "aac"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	var flags addFlags
	flags.preset = 8
	flags.params = []string{"--tune=0"}
	flags.audio = "custom"
	flags.audioCodec = "aac"

	got, err := buildEncodingConfig(cmd, cfg, flags)
	if err != nil {
		t.Fatalf("buildEncodingConfig: %v", err)
	}
	defaults, err := cfg.JobDefaults("")
	if err != nil {
		t.Fatalf("JobDefaults: %v", err)
	}
	if got.Params.CRF != defaults.Params.CRF {
		t.Fatalf("crf changed without flag: %d vs %d", got.Params.CRF, defaults.Params.CRF)
	}
	if got.Params.Preset != 8 {
		t.Fatalf("preset = %d, want 8", got.Params.Preset)
	}
	if last := got.Params.Extra[len(got.Params.Extra)-1]; last != "--tune=0" {
		t.Fatalf("extra params = %v", got.Params.Extra)
	}
	if got.Audio.Kind != job.AudioCustom || got.Audio.Codec != "aac" || got.Audio.Bitrate == 0 {
		t.Fatalf("unexpected audio mode %+v", got.Audio)
	}
}

func TestBuildEncodingConfigRejectsInvalidValues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cmd := newAddCommand(newCommandContext(new(string), new(string)))
	if err := cmd.ParseFlags([]string{"--crf", "70"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := buildEncodingConfig(cmd, cfg, addFlags{crf: 70}); err == nil {
		t.Fatal("expected crf range error")
	}
	if _, err := buildEncodingConfig(cmd, cfg, addFlags{encoder: "x265"}); err == nil {
		t.Fatal("expected unknown encoder error")
	}
}
