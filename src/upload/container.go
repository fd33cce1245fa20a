package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var containerMarkers = []string{"/.dockerenv", "/run/.containerenv"}

func detectContainer() bool {
	if os.Getenv("container") != "" {
		return true
	}
	for _, p := range containerMarkers {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

var inContainer = detectContainer

// SetInContainerForTest overrides container detection. The returned function
// restores the previous detector.
func SetInContainerForTest(fn func() bool) func() {
	prev := inContainer
	inContainer = fn
	return func() { inContainer = prev }
}

// scratchConfig copies the rclone config into a private temp directory.
// rclone rewrites its config when it refreshes OAuth tokens and the mounted
// original may be read-only or shared.
func scratchConfig(src string) (string, func(), error) {
	in, err := os.Open(src)
	if err != nil {
		return "", func() {}, fmt.Errorf("open rclone config: %w", err)
	}
	defer in.Close()

	dir, err := os.MkdirTemp("", "btrfs-backup-rclone-")
	if err != nil {
		return "", func() {}, fmt.Errorf("create scratch dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	dst := filepath.Join(dir, "rclone.conf")
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("create scratch config: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("copy rclone config: %w", err)
	}
	if err := out.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("copy rclone config: %w", err)
	}
	return dst, cleanup, nil
}
