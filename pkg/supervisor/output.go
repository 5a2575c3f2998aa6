package supervisor

import (
	"strings"
	"sync"
)

const defaultOutputLines = 256

// outputBuffer keeps the most recent lines a process printed so startup
// failures can report them.
type outputBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newOutputBuffer(capacity int) *outputBuffer {
	if capacity <= 0 {
		capacity = defaultOutputLines
	}
	return &outputBuffer{lines: make([]string, capacity)}
}

func (b *outputBuffer) add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
}

func (b *outputBuffer) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.lines {
		b.lines[i] = ""
	}
	b.next = 0
	b.full = false
}

// snapshot returns the buffered lines oldest first.
func (b *outputBuffer) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return append([]string(nil), b.lines[:b.next]...)
	}
	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	return append(out, b.lines[:b.next]...)
}

func (b *outputBuffer) String() string {
	return strings.Join(b.snapshot(), "\n")
}
