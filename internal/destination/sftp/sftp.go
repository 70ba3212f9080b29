// Package sftp stores artifacts on a remote host over SFTP under
// <directory>/<subdir>/<filename>. Each operation owns its own connection.
package sftp

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/platform"
	"github.com/Chapsvision-dev/backup-gateway/internal/retry"
)

func init() {
	destination.Register(model.DestinationSFTP, func(_ context.Context, d model.Destination, opts destination.Options) (destination.Backend, error) {
		return New(*d.SFTP, opts)
	})
}

type Backend struct {
	cfg            model.SFTPConfig
	connectTimeout time.Duration
	ioTimeout      time.Duration
	hostKeys       ssh.HostKeyCallback
	ro             retry.Options
}

func New(cfg model.SFTPConfig, opts destination.Options) (*Backend, error) {
	cb, err := hostKeyCallback(opts.SFTPKnownHosts)
	if err != nil {
		return nil, err
	}
	connect := opts.SFTPConnectTimeout
	if connect <= 0 {
		connect = 10 * time.Second
	}
	return &Backend{
		cfg:            cfg,
		connectTimeout: connect,
		ioTimeout:      opts.SFTPIOTimeout,
		hostKeys:       cb,
		ro:             opts.Retry,
	}, nil
}

func (b *Backend) Type() model.DestinationType { return model.DestinationSFTP }

func (b *Backend) remotePath(subdir, filename string) string {
	return path.Join(b.cfg.Directory, subdir, filename)
}

// session is one ssh transport plus its sftp channel.
type session struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *session) Close() error {
	err := s.sftp.Close()
	if cerr := s.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *Backend) open(ctx context.Context) (*session, error) {
	sc, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	fc, err := sftp.NewClient(sc)
	if err != nil {
		_ = sc.Close()
		return nil, err
	}
	return &session{ssh: sc, sftp: fc}, nil
}

func (b *Backend) Backup(ctx context.Context, content io.Reader, subdir, filename string) error {
	if err := destination.CheckPath(subdir, filename); err != nil {
		return destination.Fail("backup", b.Type(), filename, err)
	}
	target := b.remotePath(subdir, filename)
	fail := func(err error) error { return destination.Fail("backup", b.Type(), target, err) }

	start := time.Now()
	s, err := b.open(ctx)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			log.Debug().Err(cerr).Str("action", "sftp_backup").Msg("close session")
		}
	}()

	if err := s.sftp.MkdirAll(path.Dir(target)); err != nil {
		return fail(err)
	}

	tmp := target + ".part-" + platform.NewSuffix()
	f, err := s.sftp.Create(tmp)
	if err != nil {
		return fail(err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = f.Close()
		if rerr := s.sftp.Remove(tmp); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			log.Warn().Err(rerr).Str("action", "sftp_backup").Str("file", tmp).Msg("remove temp file failed")
		}
	}()

	n, err := destination.Copy(ctx, f, content)
	if err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		return fail(err)
	}
	if err := b.rename(s.sftp, tmp, target); err != nil {
		return fail(err)
	}
	committed = true

	log.Info().
		Str("action", "sftp_backup").
		Str("host", b.cfg.Hostname).
		Str("path", target).
		Int64("bytes", n).
		Dur("elapsed_ms", time.Since(start)).
		Msg("backup uploaded")
	return nil
}

// rename prefers the atomic posix-rename extension and falls back to
// remove + rename only on servers that report it unsupported.
func (b *Backend) rename(c *sftp.Client, from, to string) error {
	err := c.PosixRename(from, to)
	if err == nil || !posixRenameUnsupported(err) {
		return err
	}
	log.Debug().Str("action", "sftp_backup").Str("host", b.cfg.Hostname).Msg("posix-rename unsupported, replacing target")
	if err := c.Remove(to); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return c.Rename(from, to)
}

func posixRenameUnsupported(err error) bool {
	var se *sftp.StatusError
	return errors.As(err, &se) && se.FxCode() == sftp.ErrSSHFxOpUnsupported
}

// Restore hands the session to the returned reader; closing it tears the
// connection down.
func (b *Backend) Restore(ctx context.Context, subdir, filename string) (io.ReadCloser, error) {
	if err := destination.CheckPath(subdir, filename); err != nil {
		return nil, destination.Fail("restore", b.Type(), filename, err)
	}
	target := b.remotePath(subdir, filename)

	s, err := b.open(ctx)
	if err != nil {
		return nil, destination.Fail("restore", b.Type(), target, err)
	}
	f, err := s.sftp.Open(target)
	if err != nil {
		_ = s.Close()
		if errors.Is(err, fs.ErrNotExist) {
			err = destination.ErrArtifactNotFound
		}
		return nil, destination.Fail("restore", b.Type(), target, err)
	}
	return destination.WithClosers(f, f, s), nil
}

func (b *Backend) Delete(ctx context.Context, subdir, filename string) error {
	if err := destination.CheckPath(subdir, filename); err != nil {
		return destination.Fail("delete", b.Type(), filename, err)
	}
	target := b.remotePath(subdir, filename)

	s, err := b.open(ctx)
	if err != nil {
		return destination.Fail("delete", b.Type(), target, err)
	}
	defer func() { _ = s.Close() }()

	if err := s.sftp.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return destination.Fail("delete", b.Type(), target, err)
	}
	return nil
}
