package sftp

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrIdleTimeout is returned by Serve when the channel is torn down because
// no inbound byte arrived within the configured idle window (§3 invariant 5).
var ErrIdleTimeout = errors.New("sftp: idle timeout")

// Auditor receives fire-and-forget notifications of request-level outcomes.
// It mirrors the audit sink collaborator of §6; the subsystem never blocks
// on it and never inspects a return value.
type Auditor interface {
	FileRead(target string)
	FileWrite(target string)
	FileDelete(target string)
	DirCreate(target string)
	DirDelete(target string)
	DirList(target string)
	Rename(oldpath, newpath string)
	Error(opcode string, err error)
}

// noopAuditor discards every event; used when Options.Audit is nil so the
// subsystem never has to nil-check it.
type noopAuditor struct{}

func (noopAuditor) FileRead(string)            {}
func (noopAuditor) FileWrite(string)           {}
func (noopAuditor) FileDelete(string)          {}
func (noopAuditor) DirCreate(string)           {}
func (noopAuditor) DirDelete(string)           {}
func (noopAuditor) DirList(string)             {}
func (noopAuditor) Rename(string, string)      {}
func (noopAuditor) Error(string, error)        {}

// Permissions is the set of capability answers the subsystem consults per
// opcode; it is the only part of a UserAccount (§3) the core ever sees.
type Permissions struct {
	Upload         bool
	Download       bool
	Delete         bool
	CreateDir      bool
	MaxUploadBytes int64 // 0 = unlimited
}

// Transport is the collaborator boundary of §6: an ordered, reliable stream
// of inbound byte chunks, a send-bytes sink, and a close-channel sink. The
// subsystem owns the consuming run loop; it never registers a callback onto
// the transport.
type Transport interface {
	Chunks() <-chan []byte
	Send(p []byte) error
	Close() error
}

// Options configures a Subsystem at construction, per §6's "configurable
// options" table.
type Options struct {
	RootDirectory      string
	EnableLogging      bool
	Permissions        Permissions
	SessionID          string
	Username           string
	MaxUploadBytes     int64 // subsystem-wide ceiling, 0 = unlimited
	IdleTimeoutSeconds int
	Logger             *logrus.Logger
	Audit              Auditor
}

// Subsystem is one instance of the SFTP protocol engine, bound to one SSH
// channel. Packet processing is strictly serialized: Serve dispatches one
// packet to completion before the next, so the handle table needs no
// internal locking (§5).
type Subsystem struct {
	jail    *Jail
	handles *handleTable
	buf     []byte

	perms   Permissions
	ceiling int64

	sessionID string
	username  string
	log       *logrus.Entry
	audit     Auditor

	lastActivity time.Time
	idleTimeout  time.Duration
}

// NewSubsystem creates the jail root (if absent) and returns a Subsystem
// ready for Serve.
func NewSubsystem(opts Options) (*Subsystem, error) {
	jail, err := NewJail(opts.RootDirectory)
	if err != nil {
		return nil, errors.Wrap(err, "new subsystem")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	level := logrus.WarnLevel
	if opts.EnableLogging {
		level = logrus.DebugLevel
	}
	entry := logger.WithFields(logrus.Fields{
		"session_id": opts.SessionID,
		"user":       opts.Username,
	})
	entry.Logger.SetLevel(level)

	audit := opts.Audit
	if audit == nil {
		audit = noopAuditor{}
	}

	return &Subsystem{
		jail:      jail,
		handles:   newHandleTable(),
		perms:     opts.Permissions,
		ceiling:   effectiveCeiling(opts.MaxUploadBytes, opts.Permissions.MaxUploadBytes),
		sessionID: opts.SessionID,
		username:  opts.Username,
		log:       entry,
		audit:     audit,
		idleTimeout: time.Duration(opts.IdleTimeoutSeconds) * time.Second,
	}, nil
}

// effectiveCeiling is the smallest nonzero of the two caps; zero means
// unlimited (§3 invariant 4).
func effectiveCeiling(subsystemCap, userCap int64) int64 {
	switch {
	case subsystemCap == 0:
		return userCap
	case userCap == 0:
		return subsystemCap
	case subsystemCap < userCap:
		return subsystemCap
	default:
		return userCap
	}
}

// Serve runs the subsystem's single-consumer loop until the transport
// closes, the context is cancelled, or the idle timeout expires. Every exit
// path releases all open handles.
func (s *Subsystem) Serve(ctx context.Context, t Transport) error {
	defer s.handles.closeAll()

	var tick <-chan time.Time
	if s.idleTimeout > 0 {
		ticker := time.NewTicker(s.idleTimeout)
		defer ticker.Stop()
		tick = ticker.C
	}
	s.lastActivity = time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-t.Chunks():
			if !ok {
				return nil
			}
			s.lastActivity = time.Now()
			for _, resp := range s.HandleChunk(chunk) {
				if err := t.Send(resp); err != nil {
					return errors.Wrap(err, "send response")
				}
			}
		case <-tick:
			if time.Since(s.lastActivity) >= s.idleTimeout {
				_ = t.Close()
				return ErrIdleTimeout
			}
		}
	}
}

// HandleChunk appends chunk to the reassembly buffer, extracts every
// complete length-prefixed packet now available, dispatches each in order,
// and returns the encoded responses in dispatch order (§4.4 framing). A
// partial trailing packet is left buffered. It is exposed directly (rather
// than only through Serve) so framing/dispatch can be exercised
// synchronously without a Transport.
func (s *Subsystem) HandleChunk(chunk []byte) [][]byte {
	s.buf = append(s.buf, chunk...)
	var responses [][]byte
	for {
		if len(s.buf) < 4 {
			return responses
		}
		length, _, err := decodeUint32(s.buf)
		if err != nil {
			return responses
		}
		if uint64(len(s.buf)) < uint64(4)+uint64(length) {
			return responses
		}
		packet := s.buf[4 : 4+length]
		s.buf = s.buf[4+length:]

		if resp := s.dispatch(packet); resp != nil {
			responses = append(responses, resp)
		}
	}
}

// dispatch handles one extracted packet (opcode byte + payload) and returns
// the encoded response, or nil if nothing should be sent (unknown opcode
// with no parseable id).
func (s *Subsystem) dispatch(packet []byte) []byte {
	if len(packet) == 0 {
		return nil
	}
	opcode := packet[0]
	body := packet[1:]

	switch opcode {
	case opInit:
		return encodeVersion()
	case opOpen:
		return s.handleOpen(body)
	case opClose:
		return s.handleClose(body)
	case opRead:
		return s.handleRead(body)
	case opWrite:
		return s.handleWrite(body)
	case opLstat:
		return s.handleStat(body, opcode)
	case opStat:
		return s.handleStat(body, opcode)
	case opFstat:
		return s.handleFstat(body)
	case opSetstat:
		return s.handleSetstat(body)
	case opFsetstat:
		return s.handleFsetstat(body)
	case opOpendir:
		return s.handleOpendir(body)
	case opReaddir:
		return s.handleReaddir(body)
	case opRemove:
		return s.handleRemove(body)
	case opMkdir:
		return s.handleMkdir(body)
	case opRmdir:
		return s.handleRmdir(body)
	case opRealpath:
		return s.handleRealpath(body)
	case opRename:
		return s.handleRename(body)
	case opReadlink:
		return s.handleReadlink(body)
	case opSymlink:
		return s.handleSymlink(body)
	default:
		if id, ok := parseRequestID(body); ok {
			return encodeStatus(id, StatusOpUnsupported, "Operation unsupported")
		}
		return nil
	}
}

// recordError mirrors a request-level failure to the audit sink with the
// opcode name and host error text, per §7's propagation policy.
func (s *Subsystem) recordError(opcodeName string, err error) {
	if err == nil {
		return
	}
	s.audit.Error(opcodeName, err)
	s.log.WithError(err).Debugf("%s failed", opcodeName)
}

// statusResponse builds a STATUS packet for err (nil means OK) and audits
// failures.
func (s *Subsystem) statusResponse(id uint32, opcodeName string, err error) []byte {
	code, msg := statusFor(err)
	if code != StatusOK {
		s.recordError(opcodeName, err)
	}
	return encodeStatus(id, code, msg)
}
