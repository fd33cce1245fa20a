package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
)

// Fragment is one file of a (possibly split) compressed stream.
type Fragment struct {
	Name   string `json:"name"`
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// fragmentWriter writes a byte stream to base, or, when max > 0, to
// base.00000, base.00001, ... with every file but the last holding exactly
// max bytes. Suffixes widen past five digits on their own.
type fragmentWriter struct {
	dir  string
	base string
	max  int64

	idx int
	f   *os.File
	n   int64
	h   hash.Hash

	frags []Fragment
}

func newFragmentWriter(dir, base string, max int64) (*fragmentWriter, error) {
	fw := &fragmentWriter{dir: dir, base: base, max: max}
	return fw, fw.rotate()
}

func (fw *fragmentWriter) name() string {
	if fw.max <= 0 {
		return fw.base
	}
	return fmt.Sprintf("%s.%05d", fw.base, fw.idx)
}

func (fw *fragmentWriter) finish() error {
	if fw.f == nil {
		return nil
	}
	if err := fw.f.Close(); err != nil {
		return err
	}
	fw.frags = append(fw.frags, Fragment{
		Name:   filepath.Base(fw.f.Name()),
		Bytes:  fw.n,
		SHA256: hex.EncodeToString(fw.h.Sum(nil)),
	})
	fw.f = nil
	return nil
}

func (fw *fragmentWriter) rotate() error {
	if err := fw.finish(); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(fw.dir, fw.name()))
	if err != nil {
		return err
	}
	fw.idx++
	fw.f = f
	fw.n = 0
	fw.h = sha256.New()
	return nil
}

func (fw *fragmentWriter) Write(p []byte) (int, error) {
	if fw.max <= 0 {
		n, err := fw.f.Write(p)
		fw.h.Write(p[:n])
		fw.n += int64(n)
		return n, err
	}
	written := 0
	for len(p) > 0 {
		if fw.n >= fw.max {
			if err := fw.rotate(); err != nil {
				return written, err
			}
		}
		chunk := p
		if space := fw.max - fw.n; int64(len(chunk)) > space {
			chunk = chunk[:space]
		}
		n, err := fw.f.Write(chunk)
		fw.h.Write(chunk[:n])
		fw.n += int64(n)
		written += n
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

// Close finalizes the open file and returns every fragment written.
func (fw *fragmentWriter) Close() ([]Fragment, error) {
	if err := fw.finish(); err != nil {
		return fw.frags, err
	}
	return fw.frags, nil
}
