package archive

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ChecksumsFile lists "<sha256>  <name>" for every stream fragment.
const ChecksumsFile = "checksums.txt"

func writeChecksums(dir string, frags []Fragment) error {
	out, err := os.Create(filepath.Join(dir, ChecksumsFile))
	if err != nil {
		return err
	}
	for _, f := range frags {
		if _, err := fmt.Fprintf(out, "%s  %s\n", f.SHA256, f.Name); err != nil {
			out.Close()
			return err
		}
	}
	return out.Close()
}

// Verify re-hashes every file listed in dir/checksums.txt. It returns "ok",
// "mismatch", or a description of why the archive cannot be checked.
func Verify(dir string) string {
	f, err := os.Open(filepath.Join(dir, ChecksumsFile))
	if err != nil {
		return fmt.Sprintf("missing %s: %v", ChecksumsFile, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	ok := true
	listed := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "  ", 2)
		if len(parts) != 2 {
			ok = false
			continue
		}
		listed++
		sum, err := sha256File(filepath.Join(dir, parts[1]))
		if err != nil || !strings.EqualFold(parts[0], sum) {
			ok = false
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Sprintf("read %s: %v", ChecksumsFile, err)
	}
	if !ok || listed == 0 {
		return "mismatch"
	}
	return "ok"
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
