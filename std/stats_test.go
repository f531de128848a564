package std

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeSource struct{ counters Counters }

func (f fakeSource) Stats() Counters { return f.counters }

func TestStatsLoggerWritesHeaderAndRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.csv")

	source := fakeSource{counters: Counters{RegistrySize: 2, ActivePairs: 1, MessagesRelayed: 5}}

	done := make(chan struct{})
	go func() {
		StatsLogger(path, 1, source)
		close(done)
	}()

	time.Sleep(1200 * time.Millisecond)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading stats file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected header and at least one row, got %q", data)
	}
	if !strings.Contains(lines[0], "RegistrySize") {
		t.Fatalf("expected header row, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "2,1,5") {
		t.Fatalf("expected counters row, got %q", lines[1])
	}
}

func TestStatsLoggerNoopWithoutPathOrInterval(t *testing.T) {
	// Must return immediately rather than blocking forever.
	done := make(chan struct{})
	go func() {
		StatsLogger("", 1, fakeSource{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StatsLogger with empty path did not return")
	}
}
