// Package backend lists the snapshots and archives a target holds.
package backend

// Entry is one snapshot or archive found in a backend.
type Entry struct {
	Type      string `json:"type"` // snapshot|archive
	Name      string `json:"name"`
	Prefix    string `json:"prefix"`
	Kind      string `json:"kind,omitempty"` // full|incr, archives only
	Timestamp string `json:"timestamp"`      // YYYYMMDDThhmmss.nnnnnnnnnZ
	Path      string `json:"path"`
}

// Entry types.
const (
	TypeSnapshot = "snapshot"
	TypeArchive  = "archive"
)

// Kind filters accepted by List.
const (
	KindAll       = "all"
	KindSnapshots = "snapshots"
	KindArchives  = "archives"
)

// StorageBackend is read-only listing.
type StorageBackend interface {
	List(kind string) ([]Entry, error)
}

// Wants reports whether an entry of type typ passes the kind filter.
func Wants(kind, typ string) bool {
	switch kind {
	case "", KindAll:
		return true
	case KindSnapshots:
		return typ == TypeSnapshot
	case KindArchives:
		return typ == TypeArchive
	}
	return false
}

// ValidKind reports whether kind is a known filter.
func ValidKind(kind string) bool {
	switch kind {
	case "", KindAll, KindSnapshots, KindArchives:
		return true
	}
	return false
}

// Less orders entries by prefix, then timestamp, then type.
func Less(a, b Entry) bool {
	if a.Prefix != b.Prefix {
		return a.Prefix < b.Prefix
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Type < b.Type
}
