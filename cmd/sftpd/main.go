// Command sftpd is a thin, flag-driven bootstrap for the SFTP subsystem
// core. Per spec.md §1, CLI bootstrap, configuration-file parsing, and
// user-store persistence are out of scope for the core; this entrypoint
// wires flags directly to session.Config and serves with a single in-memory
// user store.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/ShiftyTR/SFTPServer/audit"
	"github.com/ShiftyTR/SFTPServer/session"
	"github.com/ShiftyTR/SFTPServer/user"
)

var (
	listenAddr         string
	hostKeyPath        string
	auditLogPath       string
	maxConnections     int64
	maxUploadBytes     int64
	idleTimeoutSeconds int
	enableLogging      bool

	flagUsername string
	flagPassword string
	flagHomeDir  string
)

func main() {
	root := &cobra.Command{
		Use:   "sftpd",
		Short: "Serve the SFTP v3 protocol subsystem over an SSH channel",
		RunE:  run,
	}
	flags := root.Flags()
	flags.StringVar(&listenAddr, "listen", ":2022", "address to accept SSH connections on")
	flags.StringVar(&hostKeyPath, "host-key", "", "path to a PEM-encoded SSH host private key")
	flags.StringVar(&auditLogPath, "audit-log", "sftpd-audit.log", "path to the audit log (append mode)")
	flags.Int64Var(&maxConnections, "max-connections", 100, "maximum concurrent SSH connections, 0 = unlimited")
	flags.Int64Var(&maxUploadBytes, "max-upload-bytes", 0, "subsystem-wide per-file upload ceiling, 0 = unlimited")
	flags.IntVar(&idleTimeoutSeconds, "idle-timeout", 300, "idle seconds before a channel is closed, 0 = unlimited")
	flags.BoolVar(&enableLogging, "debug", false, "enable verbose subsystem tracing")
	flags.StringVar(&flagUsername, "user", "", "single bootstrap user's username")
	flags.StringVar(&flagPassword, "pass", "", "single bootstrap user's password")
	flags.StringVar(&flagHomeDir, "home", "", "single bootstrap user's jail root")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	if enableLogging {
		logger.SetLevel(logrus.DebugLevel)
	}

	hostKey, err := loadHostKey(hostKeyPath)
	if err != nil {
		return fmt.Errorf("load host key: %w", err)
	}

	logFile, err := os.OpenFile(auditLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer logFile.Close()
	sink := audit.NewSink(logFile, logger)
	defer sink.Close()

	store := user.NewMemoryStore(user.Account{
		Username:       flagUsername,
		Credential:     flagPassword,
		HomeDirectory:  flagHomeDir,
		Enabled:        flagUsername != "",
		CanUpload:      true,
		CanDownload:    true,
		CanDelete:      true,
		CanCreateDir:   true,
		MaxUploadBytes: 0,
	})

	orch := session.NewOrchestrator(session.Config{
		HostKey:            hostKey,
		Users:              store,
		Audit:              sink,
		MaxConnections:     maxConnections,
		MaxUploadBytes:     maxUploadBytes,
		IdleTimeoutSeconds: idleTimeoutSeconds,
		EnableLogging:      enableLogging,
		Logger:             logger,
	})

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer listener.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.WithField("addr", listenAddr).Info("sftpd listening")
	return orch.Serve(ctx, listener)
}

func loadHostKey(path string) (ssh.Signer, error) {
	if path == "" {
		return nil, fmt.Errorf("--host-key is required; host-key generation is out of scope")
	}
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(pemBytes)
}
