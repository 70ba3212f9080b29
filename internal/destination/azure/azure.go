// Package azure stores artifacts as block blobs under
// <prefix>/<subdir>/<filename> in one container.
package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/platform"
	"github.com/Chapsvision-dev/backup-gateway/internal/retry"
	"github.com/Chapsvision-dev/backup-gateway/internal/util"
)

// blockSize of staged blocks. Staged blocks stay invisible until the block
// list is committed; Azure discards uncommitted blocks after a week.
const blockSize = 4 << 20

type Backend struct {
	client    *azblob.Client
	container string
	prefix    string
	authMode  string
	ro        retry.Options
}

func New(cfg model.AzureConfig, opts destination.Options) (*Backend, error) {
	client, mode, err := newClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}
	return &Backend{
		client:    client,
		container: cfg.Container,
		prefix:    cfg.Prefix,
		authMode:  mode,
		ro:        opts.Retry,
	}, nil
}

func (b *Backend) Type() model.DestinationType { return model.DestinationAzure }

// Backup stages content as blocks and commits the block list, stamped with
// the sha1 metadata, only after the stream ended and the staged size was
// checked. A failed call leaves an existing blob under key unchanged.
func (b *Backend) Backup(ctx context.Context, content io.Reader, subdir, filename string) error {
	key := destination.Key(b.prefix, subdir, filename)
	fail := func(err error) error { return destination.Fail("backup", b.Type(), key, err) }
	if err := destination.CheckPath(subdir, filename); err != nil {
		return fail(err)
	}
	if err := b.ensureContainer(ctx); err != nil {
		return fail(fmt.Errorf("ensure container: %w", err))
	}

	upStart := time.Now()
	blob := b.client.ServiceClient().NewContainerClient(b.container).NewBlockBlobClient(key)
	hr := util.NewHashingReader(content)
	ids, err := b.stageBlocks(ctx, blob, hr)
	if err != nil {
		return fail(fmt.Errorf("upload: %w", err))
	}
	if err := b.verifyStaged(ctx, blob, key, ids, hr.Size()); err != nil {
		return fail(fmt.Errorf("validate: %w", err))
	}
	if err := b.commitBlocks(ctx, blob, ids, hr.Sum()); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}
	log.Info().Str("action", "azure_upload").Str("container", b.container).Str("key", key).
		Str("auth", b.authMode).Int("blocks", len(ids)).Int64("bytes", hr.Size()).
		Dur("elapsed_ms", time.Since(upStart)).Msg("upload OK")
	return nil
}

// stageBlocks uploads r as uncommitted blocks and returns their ids in order.
func (b *Backend) stageBlocks(ctx context.Context, blob *blockblob.Client, r io.Reader) ([]string, error) {
	upload := platform.NewSuffix()
	var ids []string
	buf := make([]byte, blockSize)
	for i := 0; ; i++ {
		n, rerr := destination.FillBuffer(ctx, r, buf)
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return nil, rerr
		}
		if n > 0 {
			id := blockID(upload, i)
			stageOnce := func(ctx context.Context) error {
				_, err := blob.StageBlock(ctx, id, streaming.NopCloser(bytes.NewReader(buf[:n])), nil)
				return err
			}
			if err := retry.Do(ctx, b.ro, isAzRetryable, stageOnce); err != nil {
				return nil, fmt.Errorf("stage block %d: %w", i, err)
			}
			ids = append(ids, id)
		}
		if errors.Is(rerr, io.EOF) {
			return ids, nil
		}
	}
}

func (b *Backend) commitBlocks(ctx context.Context, blob *blockblob.Client, ids []string, sum string) error {
	commitOnce := func(ctx context.Context) error {
		_, err := blob.CommitBlockList(ctx, ids, &blockblob.CommitBlockListOptions{Metadata: metadata(sum)})
		return err
	}
	return retry.Do(ctx, b.ro, isAzRetryable, commitOnce)
}

// blockID is base64 of a fixed-width string; ids of one blob must share a length.
func blockID(upload string, i int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s-%08d", upload, i)))
}

// Restore opens a download stream. Transient failures on opening are retried;
// the body itself is read once.
func (b *Backend) Restore(ctx context.Context, subdir, filename string) (io.ReadCloser, error) {
	key := destination.Key(b.prefix, subdir, filename)
	if err := destination.CheckPath(subdir, filename); err != nil {
		return nil, destination.Fail("restore", b.Type(), key, err)
	}

	dlStart := time.Now()
	dlAttempt := 0
	var body io.ReadCloser
	downloadOnce := func(ctx context.Context) error {
		dlAttempt++
		resp, err := b.client.DownloadStream(ctx, b.container, key, nil)
		if err != nil {
			if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
				return retry.Permanent(destination.ErrArtifactNotFound)
			}
			log.Debug().Err(err).Str("action", "azure_download").Str("container", b.container).Str("key", key).
				Int("attempt", dlAttempt).Msg("attempt failed")
			return err
		}
		body = resp.Body
		return nil
	}
	if err := retry.Do(ctx, b.ro, isAzRetryable, downloadOnce); err != nil {
		return nil, destination.Fail("restore", b.Type(), key, err)
	}
	log.Debug().Str("action", "azure_download").Str("container", b.container).Str("key", key).
		Int("attempts", dlAttempt).Dur("elapsed_ms", time.Since(dlStart)).Msg("download stream opened")
	return body, nil
}

func (b *Backend) Delete(ctx context.Context, subdir, filename string) error {
	key := destination.Key(b.prefix, subdir, filename)
	if err := destination.CheckPath(subdir, filename); err != nil {
		return destination.Fail("delete", b.Type(), key, err)
	}
	if err := b.deleteBlob(ctx, key); err != nil {
		return destination.Fail("delete", b.Type(), key, err)
	}
	return nil
}

func (b *Backend) deleteBlob(ctx context.Context, key string) error {
	_, err := b.client.DeleteBlob(ctx, b.container, key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return err
	}
	return nil
}

func metadata(sum string) map[string]*string {
	return map[string]*string{"sha1": to.Ptr(sum)}
}
