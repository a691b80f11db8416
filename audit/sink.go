// Package audit implements the bounded, asynchronous, ordered audit sink of
// §4's "Audit sink" component: a single writer drains a capacity-bounded
// queue fed by many subsystem goroutines, dropping events on overflow
// rather than ever blocking a subsystem's packet-processing loop (§5, §9).
package audit

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Action is one of the fixed audit action tags of §6.
type Action string

// Action tags, §6.
const (
	Connected         Action = "CONNECTED"
	ConnectionFailed  Action = "CONNECTION_FAILED"
	Disconnected      Action = "DISCONNECTED"
	AuthSuccess       Action = "AUTH_SUCCESS"
	AuthFailed        Action = "AUTH_FAILED"
	FileRead          Action = "FILE_READ"
	FileWrite         Action = "FILE_WRITE"
	FileDelete        Action = "FILE_DELETE"
	DirCreate         Action = "DIR_CREATE"
	DirDelete         Action = "DIR_DELETE"
	DirList           Action = "DIR_LIST"
	Rename            Action = "RENAME"
	ErrorAction       Action = "ERROR"
)

// queueCapacity is the per-process bound of §5: "audit queue capacity 1000
// events per session process".
const queueCapacity = 1000

// Event is one structured audit record (§3).
type Event struct {
	Time      time.Time
	SessionID string
	Username  string
	Action    Action
	Target    string
	Details   string
}

// line renders Event in the on-disk format of §6:
//
//	YYYY-MM-DD HH:MM:SS.mmm|<sessionId>|<username>|<ACTION>|<target|->|<details|->
func (e Event) line() string {
	target := e.Target
	if target == "" {
		target = "-"
	}
	details := e.Details
	if details == "" {
		details = "-"
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		e.Time.UTC().Format("2006-01-02 15:04:05.000"),
		e.SessionID, e.Username, e.Action, target, details)
}

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sftp_audit_events_total",
		Help: "Audit events accepted onto the queue, by action.",
	}, []string{"action"})
	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sftp_audit_events_dropped_total",
		Help: "Audit events dropped because the queue was full.",
	})
)

func init() {
	prometheus.MustRegister(eventsTotal, eventsDropped)
}

// Sink is a fire-and-forget, ordered-per-session audit writer. Producers
// (subsystems) call its methods from many goroutines; exactly one goroutine
// drains the queue and appends lines to the underlying writer.
type Sink struct {
	queue  chan Event
	log    *logrus.Entry
	w      io.Writer
	wMu    sync.Mutex
	done   chan struct{}
}

// NewSink starts the single writer goroutine over w (typically an append-mode
// log file) and returns a ready Sink. Close stops it.
func NewSink(w io.Writer, log *logrus.Logger) *Sink {
	return newSinkWithCapacity(w, log, queueCapacity)
}

// newSinkWithCapacity is NewSink with an overridable queue capacity, used by
// tests to exercise overflow-drop behavior without needing 1000 events.
func newSinkWithCapacity(w io.Writer, log *logrus.Logger, capacity int) *Sink {
	if log == nil {
		log = logrus.New()
	}
	s := &Sink{
		queue: make(chan Event, capacity),
		log:   log.WithField("component", "audit"),
		w:     w,
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.wMu.Lock()
		_, err := fmt.Fprintln(s.w, ev.line())
		s.wMu.Unlock()
		if err != nil {
			s.log.WithError(err).Warn("failed to write audit record")
		}
	}
}

// Close stops accepting events and waits for the writer goroutine to drain
// the queue and exit.
func (s *Sink) Close() {
	close(s.queue)
	<-s.done
}

// enqueue is the shared non-blocking send: on a full queue the event is
// dropped, never blocking the caller's packet-processing loop.
func (s *Sink) enqueue(ev Event) {
	select {
	case s.queue <- ev:
		eventsTotal.WithLabelValues(string(ev.Action)).Inc()
	default:
		eventsDropped.Inc()
		s.log.WithField("action", ev.Action).Warn("audit queue full, dropping event")
	}
}

// Record is the general entry point; the session-scoped helpers of
// SessionAuditor (session.go) all funnel through it. sessionID/username are attached by the caller (the
// subsystem or session orchestrator already knows its own session).
func (s *Sink) Record(sessionID, username string, action Action, target, details string) {
	s.enqueue(Event{
		Time:      time.Now(),
		SessionID: sessionID,
		Username:  username,
		Action:    action,
		Target:    target,
		Details:   details,
	})
}
