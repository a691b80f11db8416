// Package session implements the boundary contract of spec.md §4.5: per-
// connection lifecycle management bound by a maximum-connections cap,
// authentication against the user/permission oracle, negotiation of the
// "subsystem sftp" channel request, and instantiation of one SFTP subsystem
// per authenticated channel. The SSH key exchange and transport encryption
// themselves are golang.org/x/crypto/ssh's concern, consistent with §1's
// scoping of transport/KEX as an external collaborator.
package session

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/ShiftyTR/SFTPServer/audit"
	"github.com/ShiftyTR/SFTPServer/sftp"
	"github.com/ShiftyTR/SFTPServer/user"
)

var activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "sftp_active_connections",
	Help: "SSH connections currently accepted by the orchestrator.",
})

func init() {
	prometheus.MustRegister(activeConnections)
}

// Config configures an Orchestrator.
type Config struct {
	HostKey            ssh.Signer // host-key material; generation/persistence is out of scope (§1)
	Users              user.Store
	Audit              *audit.Sink
	MaxConnections     int64
	MaxUploadBytes     int64 // subsystem-wide ceiling passed to every Subsystem
	IdleTimeoutSeconds int
	EnableLogging      bool
	Logger             *logrus.Logger
}

// Orchestrator accepts SSH connections, bounds them by MaxConnections,
// authenticates against Users, and instantiates one sftp.Subsystem per
// "subsystem sftp" channel request. shell/exec requests are refused (§4.5).
type Orchestrator struct {
	cfg    Config
	sshCfg *ssh.ServerConfig
	active int64
	log    *logrus.Logger
}

// NewOrchestrator builds the ssh.ServerConfig (password auth against Users)
// and returns a ready Orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	o := &Orchestrator{cfg: cfg, log: cfg.Logger}

	sshCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			acct, ok := cfg.Users.Lookup(meta.User())
			if !ok || !acct.Enabled || acct.Credential != string(password) {
				return nil, errors.New("authentication failed")
			}
			return &ssh.Permissions{Extensions: map[string]string{"username": acct.Username}}, nil
		},
	}
	sshCfg.AddHostKey(cfg.HostKey)
	o.sshCfg = sshCfg
	return o
}

// Serve runs the accept loop over listener until ctx is cancelled or the
// listener errors. Each accepted connection is handled in its own
// goroutine, concurrently with all others (§5).
func (o *Orchestrator) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errors.Wrap(err, "accept")
			}
		}
		if atomic.AddInt64(&o.active, 1) > o.cfg.MaxConnections && o.cfg.MaxConnections > 0 {
			atomic.AddInt64(&o.active, -1)
			_ = conn.Close()
			continue
		}
		activeConnections.Inc()
		go o.handleConn(ctx, conn)
	}
}

func (o *Orchestrator) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		atomic.AddInt64(&o.active, -1)
		activeConnections.Dec()
	}()

	sessionID := uuid.NewString()
	sconn, chans, reqs, err := ssh.NewServerConn(conn, o.sshCfg)
	if err != nil {
		if o.cfg.Audit != nil {
			audit.NewSessionAuditor(o.cfg.Audit, sessionID, "").ConnectionFailed(err.Error())
		}
		_ = conn.Close()
		return
	}
	username := sconn.Permissions.Extensions["username"]
	sessAudit := audit.NewSessionAuditor(o.cfg.Audit, sessionID, username)
	sessAudit.Connected()
	sessAudit.AuthSuccess()
	defer sessAudit.Disconnected()
	defer sconn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			o.log.WithError(err).Warn("failed to accept channel")
			continue
		}
		go o.handleChannel(ctx, ch, chReqs, sessionID, username)
	}
}

func (o *Orchestrator) handleChannel(ctx context.Context, ch ssh.Channel, reqs <-chan *ssh.Request, sessionID, username string) {
	defer ch.Close()
	acct, _ := o.cfg.Users.Lookup(username)

	for req := range reqs {
		switch req.Type {
		case "subsystem":
			name := parseSubsystemName(req.Payload)
			if name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			o.runSubsystem(ctx, ch, acct, sessionID, username)
			return
		case "shell", "exec":
			_ = req.Reply(false, nil)
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (o *Orchestrator) runSubsystem(ctx context.Context, ch ssh.Channel, acct user.Account, sessionID, username string) {
	sub, err := sftp.NewSubsystem(sftp.Options{
		RootDirectory:      acct.HomeDirectory,
		EnableLogging:      o.cfg.EnableLogging,
		Permissions:        acct.Permissions(),
		SessionID:          sessionID,
		Username:           username,
		MaxUploadBytes:     o.cfg.MaxUploadBytes,
		IdleTimeoutSeconds: o.cfg.IdleTimeoutSeconds,
		Logger:             o.cfg.Logger,
		Audit:              audit.NewSessionAuditor(o.cfg.Audit, sessionID, username),
	})
	if err != nil {
		o.log.WithError(err).Error("failed to start sftp subsystem")
		return
	}
	t := newChannelTransport(ch)
	if err := sub.Serve(ctx, t); err != nil {
		o.log.WithError(err).Debug("sftp subsystem exited")
	}
}

// parseSubsystemName decodes the "subsystem" request's payload: a single
// length-prefixed string naming the subsystem.
func parseSubsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	if n < 0 || 4+n > len(payload) {
		return ""
	}
	return string(payload[4 : 4+n])
}
