package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// pathTailMax bounds the current-file path shown next to the counter.
const pathTailMax = 48

// Progress displays live trace progress on stderr: an animated frame, the
// number of files traced so far, and the file currently being processed
// (base-relative, tail-truncated). It is automatically suppressed when
// stderr is not a TTY (piped output, CI).
type Progress struct {
	mu       sync.Mutex
	frames   []string
	current  int
	base     string
	count    int
	lastPath string
	active   bool
	isTTY    bool
	writer   *os.File
	ticker   *time.Ticker
	done     chan struct{}
}

// NewProgress creates a Progress writing to the given file (typically
// os.Stderr). Paths passed to FileDone are displayed relative to base.
func NewProgress(w *os.File, base string) *Progress {
	return &Progress{
		frames: []string{"|", "/", "-", "\\"},
		base:   base,
		writer: w,
		isTTY:  isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()),
		done:   make(chan struct{}),
	}
}

// Start begins displaying progress. If the writer is not a TTY, Start is
// a no-op; FileDone still counts so the file count stays meaningful.
func (p *Progress) Start() {
	if !p.isTTY {
		return
	}

	p.mu.Lock()
	p.active = true
	p.mu.Unlock()

	const tickInterval = 100 * time.Millisecond
	p.ticker = time.NewTicker(tickInterval)
	go func() {
		for {
			select {
			case <-p.done:
				return
			case <-p.ticker.C:
				p.mu.Lock()
				if !p.active {
					p.mu.Unlock()
					return
				}
				frame := p.frames[p.current%len(p.frames)]
				line := fmt.Sprintf("%s %d files  %s", frame, p.count, pathTail(p.base, p.lastPath))
				p.current++
				p.mu.Unlock()
				fmt.Fprintf(p.writer, "\r\033[K%s", line)
			}
		}
	}()
}

// FileDone records that one file has been processed. The next tick shows
// the updated count and this path.
func (p *Progress) FileDone(path string) {
	p.mu.Lock()
	p.count++
	p.lastPath = path
	p.mu.Unlock()
}

// Stop halts the display and clears the progress line. If the writer is
// not a TTY, Stop is a no-op.
func (p *Progress) Stop() {
	if !p.isTTY {
		return
	}

	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.active = false
	p.mu.Unlock()

	if p.ticker != nil {
		p.ticker.Stop()
	}
	close(p.done)

	fmt.Fprintf(p.writer, "\r\033[K")
}

// pathTail renders path relative to base and keeps only the last
// pathTailMax characters so the progress line never wraps.
func pathTail(base, path string) string {
	if path == "" {
		return "..."
	}
	rel := DisplayPath(base, path)
	rel = filepath.ToSlash(rel)
	if len(rel) <= pathTailMax {
		return rel
	}
	return "..." + rel[len(rel)-pathTailMax:]
}
