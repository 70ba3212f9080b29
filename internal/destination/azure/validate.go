package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/backup-gateway/internal/retry"
)

// ensureContainer checks access using a minimal list (SAS sr=c cannot create containers).
func (b *Backend) ensureContainer(ctx context.Context) error {
	start := time.Now()
	attempt := 0
	ensureOnce := func(ctx context.Context) error {
		attempt++
		pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{
			MaxResults: to.Ptr(int32(1)),
		})
		if !pager.More() {
			return nil
		}
		_, err := pager.NextPage(ctx)
		if err == nil {
			return nil
		}
		var re *azcore.ResponseError
		if errors.As(err, &re) {
			switch re.ErrorCode {
			case string(bloberror.ContainerNotFound):
				return retry.Permanent(fmt.Errorf("container %q not found: create it first (container SAS cannot create containers)", b.container))
			case string(bloberror.AuthorizationFailure),
				string(bloberror.AuthorizationPermissionMismatch),
				string(bloberror.AuthenticationFailed):
				return retry.Permanent(fmt.Errorf("not authorized for container %q; ensure a container SAS with at least rwdl", b.container))
			}
		}
		log.Debug().Err(err).Str("action", "azure_container_check").Str("container", b.container).
			Int("attempt", attempt).Msg("attempt failed")
		return err
	}
	if err := retry.Do(ctx, b.ro, isAzRetryable, ensureOnce); err != nil {
		return err
	}
	log.Debug().Str("action", "azure_container_check").Str("container", b.container).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("container access OK")
	return nil
}

// verifyStaged checks that every block in ids is staged and that together
// they hold size bytes.
func (b *Backend) verifyStaged(ctx context.Context, blob *blockblob.Client, key string, ids []string, size int64) error {
	start := time.Now()
	attempt := 0
	verifyOnce := func(ctx context.Context) error {
		attempt++
		resp, err := blob.GetBlockList(ctx, blockblob.BlockListTypeUncommitted, nil)
		if err != nil {
			return err
		}
		staged := make(map[string]int64, len(resp.UncommittedBlocks))
		for _, blk := range resp.UncommittedBlocks {
			if blk != nil && blk.Name != nil && blk.Size != nil {
				staged[*blk.Name] = *blk.Size
			}
		}
		var total int64
		for _, id := range ids {
			n, ok := staged[id]
			if !ok {
				return retry.Permanent(fmt.Errorf("block %s not staged", id))
			}
			total += n
		}
		if total != size {
			return retry.Permanent(fmt.Errorf("size mismatch: local=%d, staged=%d", size, total))
		}
		return nil
	}
	if err := retry.Do(ctx, b.ro, isAzRetryable, verifyOnce); err != nil {
		return err
	}
	log.Debug().Str("action", "azure_validate").Str("container", b.container).Str("key", key).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("staged blocks OK")
	return nil
}

// isAzRetryable: retry rules for Azure (timeout, 5xx, 429, 408, ServerBusy).
func isAzRetryable(err error) bool {
	if retry.IsTransient(err) {
		return true
	}
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		if re.StatusCode == http.StatusTooManyRequests || re.StatusCode == http.StatusRequestTimeout {
			return true
		}
		if re.StatusCode >= 500 && re.StatusCode <= 599 {
			return true
		}
		if re.ErrorCode == string(bloberror.ServerBusy) {
			return true
		}
	}
	return false
}
