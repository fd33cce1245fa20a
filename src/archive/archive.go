// Package archive turns a snapshot into a compressed, optionally fragmented
// btrfs send stream on disk.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"btrfs-backup/src/btrfs"
	"btrfs-backup/src/changes"
	"btrfs-backup/src/naming"
	pg "btrfs-backup/src/util/progress"
)

// StreamFile is the base name of the compressed stream.
const StreamFile = "stream.zst"

// DecideKind picks an incremental archive only when a parent exists and a
// full one was not requested.
func DecideKind(parent string, forceFull bool) naming.Kind {
	if parent != "" && !forceFull {
		return naming.Incremental
	}
	return naming.Full
}

// Request describes one archive to produce.
type Request struct {
	// Dir is the archive directory; it is created if needed.
	Dir string
	// Snapshot is the path of the snapshot to send.
	Snapshot string
	// Parent is the base snapshot path; empty means a full stream.
	Parent string
	// Manifest is written verbatim to files.txt.
	Manifest []string
	// MaxFragment splits the compressed stream; 0 writes a single file.
	MaxFragment int64
}

// Result describes a finished archive.
type Result struct {
	Dir       string
	Kind      naming.Kind
	Fragments []Fragment
	// Bytes is the total compressed size.
	Bytes int64
	// Raw is the size of the uncompressed send stream.
	Raw int64
}

// Producer writes archives.
type Producer struct {
	client   btrfs.Client
	log      *zap.Logger
	progress io.Writer
}

// NewProducer returns a Producer. progress, when non-nil, receives a running
// byte count of the send stream.
func NewProducer(client btrfs.Client, log *zap.Logger, progress io.Writer) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{client: client, log: log, progress: progress}
}

// Produce writes files.txt, the compressed stream and checksums.txt into
// req.Dir. Partially written files are left in place on failure.
func (p *Producer) Produce(ctx context.Context, req Request) (Result, error) {
	kind := naming.Full
	if req.Parent != "" {
		kind = naming.Incremental
	}
	res := Result{Dir: req.Dir, Kind: kind}

	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return res, fmt.Errorf("create archive dir: %w", err)
	}
	if err := changes.WriteManifest(filepath.Join(req.Dir, changes.ManifestFile), req.Manifest); err != nil {
		return res, fmt.Errorf("write %s: %w", changes.ManifestFile, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.log.Info("sending snapshot",
		zap.String("snapshot", req.Snapshot),
		zap.String("parent", req.Parent),
		zap.String("kind", string(kind)),
		zap.String("max_fragment", fragmentLabel(req.MaxFragment)))
	stream, err := p.client.Send(ctx, req.Snapshot, req.Parent)
	if err != nil {
		return res, err
	}

	fw, err := newFragmentWriter(req.Dir, StreamFile, req.MaxFragment)
	if err != nil {
		cancel()
		_ = stream.Wait()
		return res, fmt.Errorf("create stream file: %w", err)
	}
	zw, err := zstd.NewWriter(fw, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		cancel()
		_ = stream.Wait()
		_, _ = fw.Close()
		return res, fmt.Errorf("create zstd writer: %w", err)
	}

	var src io.Reader = stream
	if p.progress != nil {
		src = pg.NewReader(stream, "send", p.progress)
	}
	raw, copyErr := io.Copy(zw, src)
	if copyErr != nil {
		// Stop btrfs send so Wait does not block on a full pipe.
		cancel()
	}
	zErr := zw.Close()
	frags, fwErr := fw.Close()
	waitErr := stream.Wait()

	res.Raw = raw
	res.Fragments = frags
	for _, f := range frags {
		res.Bytes += f.Bytes
	}

	switch {
	case copyErr != nil:
		return res, fmt.Errorf("write stream: %w", copyErr)
	case waitErr != nil:
		return res, fmt.Errorf("btrfs send failed: %w", waitErr)
	case zErr != nil:
		return res, fmt.Errorf("finish zstd stream: %w", zErr)
	case fwErr != nil:
		return res, fmt.Errorf("close stream file: %w", fwErr)
	}

	if err := writeChecksums(req.Dir, frags); err != nil {
		return res, fmt.Errorf("write %s: %w", ChecksumsFile, err)
	}
	p.log.Info("archive written",
		zap.String("dir", req.Dir),
		zap.Int("fragments", len(frags)),
		zap.String("raw", humanize.IBytes(uint64(raw))),
		zap.String("compressed", humanize.IBytes(uint64(res.Bytes))))
	return res, nil
}

func fragmentLabel(max int64) string {
	if max <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(max))
}
