// Package s3 stores artifacts as objects under <prefix>/<subdir>/<filename>
// in an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/util"
)

// partSize is the multipart chunk held in memory; S3 requires at least 5 MiB
// for every part but the last.
const partSize = 8 << 20

func init() {
	destination.Register(model.DestinationS3, func(_ context.Context, d model.Destination, opts destination.Options) (destination.Backend, error) {
		return New(*d.S3, opts), nil
	})
}

// API is the subset of the S3 client the backend uses.
type API interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Backend struct {
	client API
	bucket string
	prefix string
}

func New(cfg model.S3Config, opts destination.Options) *Backend {
	o := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if opts.Retry.MaxAttempts > 0 {
		o.RetryMaxAttempts = opts.Retry.MaxAttempts
	}
	return NewWithClient(s3.New(o), cfg)
}

// NewWithClient wires an explicit client.
func NewWithClient(client API, cfg model.S3Config) *Backend {
	return &Backend{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

func (b *Backend) Type() model.DestinationType { return model.DestinationS3 }

// Backup runs a multipart upload, buffering one part at a time. Any failure
// aborts the upload so no object appears under key.
func (b *Backend) Backup(ctx context.Context, content io.Reader, subdir, filename string) error {
	key := destination.Key(b.prefix, subdir, filename)
	fail := func(err error) error { return destination.Fail("backup", b.Type(), key, err) }
	if err := destination.CheckPath(subdir, filename); err != nil {
		return fail(err)
	}

	start := time.Now()
	hr := util.NewHashingReader(content)
	created, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fail(fmt.Errorf("create multipart upload: %w", err))
	}
	uploadID := created.UploadId

	parts, err := b.uploadParts(ctx, key, uploadID, hr)
	if err == nil {
		_, err = b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(b.bucket),
			Key:             aws.String(key),
			UploadId:        uploadID,
			MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
		})
	}
	if err != nil {
		// Abort on a fresh context: ctx may be the reason we failed.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if _, aerr := b.client.AbortMultipartUpload(actx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(b.bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		}); aerr != nil {
			log.Warn().Err(aerr).Str("action", "s3_upload").Str("key", key).Msg("abort multipart upload failed")
		}
		return fail(err)
	}

	log.Info().Str("action", "s3_upload").Str("bucket", b.bucket).Str("key", key).
		Int("parts", len(parts)).Int64("bytes", hr.Size()).Str("sha1", hr.Sum()).
		Dur("elapsed_ms", time.Since(start)).Msg("upload OK")
	return nil
}

func (b *Backend) uploadParts(ctx context.Context, key string, uploadID *string, r io.Reader) ([]s3types.CompletedPart, error) {
	var parts []s3types.CompletedPart
	buf := make([]byte, partSize)
	for num := int32(1); ; num++ {
		n, rerr := destination.FillBuffer(ctx, r, buf)
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return nil, rerr
		}
		// An empty stream still needs one (empty) part.
		if n > 0 || num == 1 {
			out, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(b.bucket),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: aws.Int32(num),
				Body:       bytes.NewReader(buf[:n]),
			})
			if err != nil {
				return nil, fmt.Errorf("upload part %d: %w", num, err)
			}
			parts = append(parts, s3types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(num)})
		}
		if errors.Is(rerr, io.EOF) {
			return parts, nil
		}
	}
}

func (b *Backend) Restore(ctx context.Context, subdir, filename string) (io.ReadCloser, error) {
	key := destination.Key(b.prefix, subdir, filename)
	if err := destination.CheckPath(subdir, filename); err != nil {
		return nil, destination.Fail("restore", b.Type(), key, err)
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			err = destination.ErrArtifactNotFound
		}
		return nil, destination.Fail("restore", b.Type(), key, err)
	}
	return out.Body, nil
}

func (b *Backend) Delete(ctx context.Context, subdir, filename string) error {
	key := destination.Key(b.prefix, subdir, filename)
	if err := destination.CheckPath(subdir, filename); err != nil {
		return destination.Fail("delete", b.Type(), key, err)
	}
	// DeleteObject on a missing key succeeds.
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return destination.Fail("delete", b.Type(), key, err)
	}
	return nil
}
