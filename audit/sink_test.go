package audit

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLineFormat(t *testing.T) {
	ev := Event{
		Time:      time.Date(2026, 7, 30, 12, 34, 56, 789_000_000, time.UTC),
		SessionID: "sess-1",
		Username:  "alice",
		Action:    FileWrite,
		Target:    "/a/b.txt",
		Details:   "",
	}
	want := "2026-07-30 12:34:56.789|sess-1|alice|FILE_WRITE|/a/b.txt|-"
	assert.Equal(t, want, ev.line())
}

func TestEventLineMissingFieldsAreDash(t *testing.T) {
	ev := Event{Action: Connected}
	line := ev.line()
	parts := strings.Split(line, "|")
	require.Len(t, parts, 6)
	assert.Equal(t, "-", parts[4])
	assert.Equal(t, "-", parts[5])
}

// blockingWriter blocks its first Write until gate is closed, signalling via
// started so tests can wait deterministically for the writer goroutine to
// be stuck mid-write before filling the queue.
type blockingWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newBlockingWriter() *blockingWriter {
	return &blockingWriter{started: make(chan struct{}), gate: make(chan struct{})}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	w.once.Do(func() {
		close(w.started)
		<-w.gate
	})
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *blockingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestSinkDropsOnFullQueueWithoutBlocking(t *testing.T) {
	bw := newBlockingWriter()
	sink := newSinkWithCapacity(bw, nil, 2)

	sink.Record("s", "u", FileRead, "e1", "")
	<-bw.started // writer goroutine now blocked mid-write on e1

	sink.Record("s", "u", FileRead, "e2", "")
	sink.Record("s", "u", FileRead, "e3", "")
	// queue capacity 2 is now full (e2, e3 buffered); this must not block.
	done := make(chan struct{})
	go func() {
		sink.Record("s", "u", FileRead, "e4-dropped", "")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue instead of dropping")
	}

	close(bw.gate)
	sink.Close()

	lines := strings.Split(strings.TrimRight(bw.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "e1")
	assert.Contains(t, lines[1], "e2")
	assert.Contains(t, lines[2], "e3")
}

func TestSessionAuditorTagsEvents(t *testing.T) {
	var buf bytes.Buffer
	sink := newSinkWithCapacity(&buf, nil, 10)
	a := NewSessionAuditor(sink, "sess-9", "bob")

	a.FileWrite("/x.bin")
	a.Rename("/old", "/new")
	sink.Close()

	out := buf.String()
	assert.Contains(t, out, "|sess-9|bob|FILE_WRITE|/x.bin|-")
	assert.Contains(t, out, "|sess-9|bob|RENAME|/old|-> /new")
}
