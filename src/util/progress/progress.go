// Package progress reports how much of a stream has been consumed.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Interval is the minimum time between two progress lines.
const Interval = 200 * time.Millisecond

// Reader wraps an io.Reader and rewrites a single status line on out with
// the bytes read and the average rate. The line is terminated once the
// underlying reader returns an error or EOF.
type Reader struct {
	r     io.Reader
	out   io.Writer
	label string
	now   func() time.Time

	mu    sync.Mutex
	read  int64
	start time.Time
	last  time.Time
	done  bool
}

func NewReader(r io.Reader, label string, out io.Writer) *Reader {
	return &Reader{r: r, out: out, label: label, now: time.Now}
}

func (p *Reader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if p.start.IsZero() {
		p.start = now
	}
	p.read += int64(n)
	if n > 0 && now.Sub(p.last) >= Interval {
		p.report(now, false)
		p.last = now
	}
	if err != nil && !p.done {
		p.done = true
		p.report(now, true)
	}
	return n, err
}

// N returns the number of bytes read so far.
func (p *Reader) N() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read
}

func (p *Reader) report(now time.Time, final bool) {
	if p.out == nil {
		return
	}
	line := fmt.Sprintf("[%s] %s", p.label, humanize.IBytes(uint64(p.read)))
	if secs := now.Sub(p.start).Seconds(); secs > 0 {
		line += fmt.Sprintf(" at %s/s", humanize.IBytes(uint64(float64(p.read)/secs)))
	}
	if final {
		line += "\n"
	}
	fmt.Fprint(p.out, "\r"+line)
}
