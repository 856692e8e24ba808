package dytor

import (
	"sync"
)

// board is a tiny thread-safe event recorder test actors write to. Reads
// after Run returns are safe: Run joins every context worker before
// returning.
type board struct {
	mu     sync.Mutex
	events []string
}

func (b *board) add(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *board) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.events...)
}

func (b *board) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
