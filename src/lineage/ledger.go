package lineage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LedgerFile is the ledger's file name inside the snapshot container.
const LedgerFile = ".ledger.yaml"

// Entry records one snapshot taken by this tool.
type Entry struct {
	Snapshot   string    `yaml:"snapshot"`
	Generation uint64    `yaml:"generation"`
	Created    time.Time `yaml:"created"`
	Parent     string    `yaml:"parent,omitempty"`
	Archive    string    `yaml:"archive,omitempty"`
	Kind       string    `yaml:"kind,omitempty"`
	// Failed marks a snapshot whose archive could not be written. It is
	// never used as a parent.
	Failed bool `yaml:"failed,omitempty"`
}

// Ledger is an append-only stream of YAML documents, one per snapshot.
type Ledger struct {
	Path string
}

// Append adds e to the end of the ledger and syncs it to disk.
func (l Ledger) Append(e Entry) error {
	data, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("ledger: encode entry: %w", err)
	}
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open: %w", err)
	}
	if _, err := f.Write(append([]byte("---\n"), data...)); err != nil {
		f.Close()
		return fmt.Errorf("ledger: append: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("ledger: sync: %w", err)
	}
	return f.Close()
}

// Exists reports whether the ledger file is present.
func (l Ledger) Exists() bool {
	_, err := os.Stat(l.Path)
	return err == nil
}

// Entries returns every entry in append order. A missing ledger is empty.
func (l Ledger) Entries() ([]Entry, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	var out []Entry
	dec := yaml.NewDecoder(f)
	for {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("ledger: decode entry %d: %w", len(out)+1, err)
		}
		if e.Snapshot == "" {
			continue
		}
		out = append(out, e)
	}
}
