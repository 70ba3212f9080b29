// Package local stores artifacts on the gateway's filesystem under
// <directory>/<subdir>/<filename>.
package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
)

func init() {
	destination.Register(model.DestinationLocal, func(_ context.Context, d model.Destination, _ destination.Options) (destination.Backend, error) {
		return New(*d.Local), nil
	})
}

type Backend struct {
	root string
}

func New(cfg model.LocalConfig) *Backend {
	return &Backend{root: cfg.Directory}
}

func (b *Backend) Type() model.DestinationType { return model.DestinationLocal }

func (b *Backend) path(subdir, filename string) string {
	return filepath.Join(b.root, filepath.FromSlash(subdir), filename)
}

// Backup writes to a temp file in the target directory and renames it on
// success, so a failed transfer never leaves a file under the final name.
func (b *Backend) Backup(ctx context.Context, content io.Reader, subdir, filename string) error {
	if err := destination.CheckPath(subdir, filename); err != nil {
		return destination.Fail("backup", b.Type(), filename, err)
	}
	target := b.path(subdir, filename)
	dir := filepath.Dir(target)

	start := time.Now()
	if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return destination.Fail("backup", b.Type(), target, err)
	}

	tmp, err := os.CreateTemp(dir, filename+".part-*")
	if err != nil {
		return destination.Fail("backup", b.Type(), target, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tmp.Close()
		if rerr := os.Remove(tmpName); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			log.Warn().Err(rerr).Str("action", "local_backup").Str("file", tmpName).Msg("remove temp file failed")
		}
	}()

	n, err := destination.Copy(ctx, tmp, content)
	if err != nil {
		return destination.Fail("backup", b.Type(), target, err)
	}
	if err := tmp.Sync(); err != nil {
		return destination.Fail("backup", b.Type(), target, err)
	}
	if err := tmp.Close(); err != nil {
		return destination.Fail("backup", b.Type(), target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return destination.Fail("backup", b.Type(), target, err)
	}
	committed = true

	log.Debug().
		Str("action", "local_backup").
		Str("path", target).
		Int64("bytes", n).
		Dur("elapsed_ms", time.Since(start)).
		Msg("backup written")
	return nil
}

func (b *Backend) Restore(ctx context.Context, subdir, filename string) (io.ReadCloser, error) {
	if err := destination.CheckPath(subdir, filename); err != nil {
		return nil, destination.Fail("restore", b.Type(), filename, err)
	}
	target := b.path(subdir, filename)
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = destination.ErrArtifactNotFound
		}
		return nil, destination.Fail("restore", b.Type(), target, err)
	}
	return f, nil
}

func (b *Backend) Delete(ctx context.Context, subdir, filename string) error {
	if err := destination.CheckPath(subdir, filename); err != nil {
		return destination.Fail("delete", b.Type(), filename, err)
	}
	target := b.path(subdir, filename)
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return destination.Fail("delete", b.Type(), target, err)
	}
	return nil
}
