package destination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/Chapsvision-dev/backup-gateway/internal/config"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/retry"
	"github.com/Chapsvision-dev/backup-gateway/internal/version"
)

// ChunkSize bounds every read and write against a backend.
const ChunkSize = 64 << 10

var (
	ErrTransfer        = errors.New("transfer failed")
	ErrUnsupportedType = errors.New("unsupported destination type")
	// ErrArtifactNotFound is wrapped in a TransferError when the requested
	// artifact does not exist on the destination.
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrInvalidPath      = errors.New("invalid artifact path")
)

// Backend performs byte-level backup and restore against one physical target.
// Every error it returns is a *TransferError.
type Backend interface {
	// Backup streams content to subdir/filename. Nothing is committed under
	// the final name before content reports io.EOF; any other read error
	// aborts the transfer and leaves an existing artifact untouched.
	Backup(ctx context.Context, content io.Reader, subdir, filename string) error

	// Restore opens subdir/filename for a single-pass read. The caller must
	// close the returned reader, which releases any connection it holds.
	Restore(ctx context.Context, subdir, filename string) (io.ReadCloser, error)

	// Delete removes subdir/filename. A missing artifact is not an error.
	Delete(ctx context.Context, subdir, filename string) error

	Type() model.DestinationType
}

// TransferError classifies every backend failure.
type TransferError struct {
	Op   string
	Type model.DestinationType
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Type, e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Is makes every TransferError match ErrTransfer.
func (e *TransferError) Is(target error) bool { return target == ErrTransfer }

// Fail wraps err into a *TransferError unless it already is one.
func Fail(op string, t model.DestinationType, p string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransferError
	if errors.As(err, &te) {
		return err
	}
	return &TransferError{Op: op, Type: t, Path: p, Err: err}
}

// Options carries process-wide transport settings into backend factories.
type Options struct {
	SFTPConnectTimeout time.Duration
	SFTPIOTimeout      time.Duration
	SFTPKnownHosts     string
	APITimeout         time.Duration
	Retry              retry.Options
	UserAgent          string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		SFTPConnectTimeout: cfg.SFTP.ConnectTimeout,
		SFTPIOTimeout:      cfg.SFTP.IOTimeout,
		SFTPKnownHosts:     cfg.SFTP.KnownHosts,
		APITimeout:         cfg.API.Timeout,
		Retry:              cfg.RetryOptions(),
		UserAgent:          version.UserAgent(),
	}
}

// Copy streams src to dst in ChunkSize pieces, checking ctx between chunks.
func Copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// CheckPath rejects subdirs and filenames that would escape the destination
// root. subdir may be empty; filename may not.
func CheckPath(subdir, filename string) error {
	if filename == "" || filename == "." || filename == ".." || strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("%w: filename %q", ErrInvalidPath, filename)
	}
	if subdir == "" {
		return nil
	}
	if strings.HasPrefix(subdir, "/") || strings.Contains(subdir, `\`) {
		return fmt.Errorf("%w: subdir %q", ErrInvalidPath, subdir)
	}
	for _, seg := range strings.Split(subdir, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: subdir %q", ErrInvalidPath, subdir)
		}
	}
	return nil
}

// Key joins an object-store key from prefix, subdir and filename.
func Key(prefix, subdir, filename string) string {
	return strings.TrimPrefix(path.Join(prefix, subdir, filename), "/")
}

// multiCloser closes the wrapped reader then the extra resources, in order.
type multiCloser struct {
	io.Reader
	closers []io.Closer
}

// WithClosers returns a ReadCloser over r whose Close releases each closer in
// order and reports the first error.
func WithClosers(r io.Reader, closers ...io.Closer) io.ReadCloser {
	return &multiCloser{Reader: r, closers: closers}
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FillBuffer fills buf from r in ChunkSize reads, checking ctx between them.
// It returns io.EOF once r is exhausted, possibly together with a partial buffer.
func FillBuffer(ctx context.Context, r io.Reader, buf []byte) (int, error) {
	filled := 0
	for filled < len(buf) {
		if err := ctx.Err(); err != nil {
			return filled, err
		}
		end := min(filled+ChunkSize, len(buf))
		n, err := r.Read(buf[filled:end])
		filled += n
		if err != nil {
			return filled, err
		}
	}
	return filled, nil
}
