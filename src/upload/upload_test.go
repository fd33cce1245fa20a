package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"btrfs-backup/src/util/command"
)

func transient(c command.Call) error {
	return &command.Error{Name: c.Name, Args: c.Args, ExitCode: 5, Err: errors.New("exit status 5")}
}

type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func archiveDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "demo-backup-20240101T000000.000000000Z-full")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func TestPolicy_Delays(t *testing.T) {
	delays := DefaultPolicy.Delays()
	require.Len(t, delays, 11)
	for k, d := range delays {
		require.Equal(t, time.Duration(1<<k)*time.Minute, d, "delay before attempt %d", k+2)
	}
	var total time.Duration
	for _, d := range delays {
		require.LessOrEqual(t, d, 24*time.Hour)
		total += d
	}
	require.Equal(t, 2047*time.Minute, total)
}

func TestUpload_RetriesThenSucceeds(t *testing.T) {
	failures := 3
	fake := &command.Fake{Handler: func(c command.Call) (string, string, error) {
		if failures > 0 {
			failures--
			return "", "connection reset", transient(c)
		}
		return "", `{"level":"info","msg":"done","stats":{"bytes":2048,"transfers":2}}`, nil
	}}
	rec := &recorder{}
	u := New(Options{Remote: "b2", Runner: fake, Sleep: rec.sleep})

	stats, err := u.Upload(context.Background(), archiveDir(t), "demo-backup-20240101T000000.000000000Z-full")
	require.NoError(t, err)
	require.Equal(t, int64(2048), stats.Bytes)
	require.Len(t, fake.Calls, 4)
	require.Equal(t, []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute}, rec.delays)
	require.Contains(t, fake.Joined(0), "b2:/demo-backup-20240101T000000.000000000Z-full")
	require.Contains(t, fake.Joined(0), "--checksum")
}

func TestUpload_GivesUpBeforeDelayExceedsLimit(t *testing.T) {
	fake := &command.Fake{Handler: func(c command.Call) (string, string, error) {
		return "", "timeout", transient(c)
	}}
	rec := &recorder{}
	u := New(Options{Remote: "b2", Runner: fake, Sleep: rec.sleep})

	_, err := u.Upload(context.Background(), archiveDir(t), "x")
	require.ErrorIs(t, err, ErrRetryBudget)
	// 11 waits (1m .. 1024m) and 12 attempts; the 2048m wait is never taken.
	require.Len(t, rec.delays, 11)
	require.Len(t, fake.Calls, 12)
	require.Equal(t, 1024*time.Minute, rec.delays[len(rec.delays)-1])
	for _, d := range rec.delays {
		require.LessOrEqual(t, d, 1440*time.Minute)
	}
}

func TestUpload_EveryExitCodeIsRetried(t *testing.T) {
	for _, code := range []int{1, 2, 7, -1} {
		failures := 2
		fake := &command.Fake{Handler: func(c command.Call) (string, string, error) {
			if failures > 0 {
				failures--
				return "", "failed", &command.Error{Name: c.Name, ExitCode: code, Err: errors.New("exit status " + strconv.Itoa(code))}
			}
			return "", "", nil
		}}
		rec := &recorder{}
		_, err := New(Options{Remote: "b2", Runner: fake, Sleep: rec.sleep}).Upload(context.Background(), archiveDir(t), "x")
		require.NoError(t, err, "exit code %d", code)
		require.Len(t, fake.Calls, 3, "exit code %d", code)
		require.Equal(t, []time.Duration{time.Minute, 2 * time.Minute}, rec.delays, "exit code %d", code)
	}
}

func TestUpload_FailFastStopsOnUsageAndFatal(t *testing.T) {
	for _, code := range []int{2, 7} {
		fake := &command.Fake{Handler: func(c command.Call) (string, string, error) {
			return "", "bad", &command.Error{Name: c.Name, ExitCode: code, Err: errors.New("failed")}
		}}
		rec := &recorder{}
		_, err := New(Options{Remote: "b2", Runner: fake, Sleep: rec.sleep, FailFast: true}).Upload(context.Background(), archiveDir(t), "x")
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrRetryBudget)
		require.Len(t, fake.Calls, 1, "exit code %d", code)
		require.Empty(t, rec.delays)
	}
}

func TestUpload_FailFastStillRetriesOtherErrors(t *testing.T) {
	failures := 1
	fake := &command.Fake{Handler: func(c command.Call) (string, string, error) {
		if failures > 0 {
			failures--
			return "", "", &command.Error{Name: c.Name, ExitCode: 1, Err: errors.New("exit status 1")}
		}
		return "", "", nil
	}}
	rec := &recorder{}
	_, err := New(Options{Remote: "b2", Runner: fake, Sleep: rec.sleep, FailFast: true}).Upload(context.Background(), archiveDir(t), "x")
	require.NoError(t, err)
	require.Equal(t, []time.Duration{time.Minute}, rec.delays)
}

func TestUpload_ContextCancelledDuringWait(t *testing.T) {
	fake := &command.Fake{Handler: func(c command.Call) (string, string, error) {
		return "", "", transient(c)
	}}
	ctx, cancel := context.WithCancel(context.Background())
	u := New(Options{Remote: "b2", Runner: fake, Sleep: func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleep(ctx, d)
	}})
	_, err := u.Upload(ctx, archiveDir(t), "x")
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, fake.Calls, 1)
}

func TestUpload_MissingArchive(t *testing.T) {
	fake := &command.Fake{}
	_, err := New(Options{Remote: "b2", Runner: fake}).Upload(context.Background(), filepath.Join(t.TempDir(), "nope"), "nope")
	require.Error(t, err)
	require.Empty(t, fake.Calls)
}

func TestUpload_SecondRunTransfersNothing(t *testing.T) {
	// Remote state keyed by fragment; rclone --checksum only sends what differs.
	remote := map[string]bool{}
	fake := &command.Fake{Handler: func(c command.Call) (string, string, error) {
		var bytes int
		for _, f := range []string{"files.txt", "stream.zst"} {
			if !remote[f] {
				remote[f] = true
				bytes += 100
			}
		}
		return "", `{"level":"info","msg":"x","stats":{"bytes":` + strconv.Itoa(bytes) + `}}`, nil
	}}
	u := New(Options{Remote: "b2", Runner: fake})
	dir := archiveDir(t)

	first, err := u.Upload(context.Background(), dir, "a")
	require.NoError(t, err)
	require.Equal(t, int64(200), first.Bytes)
	second, err := u.Upload(context.Background(), dir, "a")
	require.NoError(t, err)
	require.Zero(t, second.Bytes)
}

func TestUpload_ScratchConfigInContainer(t *testing.T) {
	restore := SetInContainerForTest(func() bool { return true })
	defer restore()

	cfg := filepath.Join(t.TempDir(), "rclone.conf")
	require.NoError(t, os.WriteFile(cfg, []byte("[b2]\ntype = b2\n"), 0o400))

	var used string
	fake := &command.Fake{Handler: func(c command.Call) (string, string, error) {
		for i, a := range c.Args {
			if a == "--config" {
				used = c.Args[i+1]
			}
		}
		data, err := os.ReadFile(used)
		require.NoError(t, err)
		require.Equal(t, "[b2]\ntype = b2\n", string(data))
		// rclone may rewrite its config to store refreshed tokens.
		require.NoError(t, os.WriteFile(used, []byte("rewritten"), 0o600))
		return "", "", nil
	}}
	_, err := New(Options{Remote: "b2", Config: cfg, Runner: fake}).Upload(context.Background(), archiveDir(t), "a")
	require.NoError(t, err)

	require.NotEqual(t, cfg, used)
	original, err := os.ReadFile(cfg)
	require.NoError(t, err)
	require.Equal(t, "[b2]\ntype = b2\n", string(original))
	_, err = os.Stat(used)
	require.True(t, os.IsNotExist(err), "scratch config removed after upload")
}

func TestUpload_ConfigUsedDirectlyOutsideContainer(t *testing.T) {
	restore := SetInContainerForTest(func() bool { return false })
	defer restore()

	fake := &command.Fake{}
	_, err := New(Options{Remote: "b2", Config: "/etc/rclone.conf", Runner: fake}).Upload(context.Background(), archiveDir(t), "a")
	require.NoError(t, err)
	require.Contains(t, fake.Joined(0), "--config /etc/rclone.conf")
}
