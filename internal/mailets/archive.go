package mailets

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"

	"mailflow/internal/config"
	"mailflow/internal/engine"
	"mailflow/pkg/circuitbreaker"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
)

type S3Archiver struct {
	client *minio.Client
	bucket string
	cb     *circuitbreaker.Wrapper
}

func NewS3Archiver(client *minio.Client, bucket string, breaker config.CircuitBreakerConfig) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		cb:     circuitbreaker.FromOptions("s3-archive", breaker.Options()),
	}
}

func (a *S3Archiver) Put(ctx context.Context, key string, data []byte) error {
	_, err := circuitbreaker.Execute(ctx, a.cb, func() (minio.UploadInfo, error) {
		return a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "message/rfc822"})
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}
	return nil
}

// newArchive uploads the raw message to object storage under
// <prefix>/<mail id>.eml and lets the mail continue.
func newArchive(cfg engine.MailetConfig, deps Deps) (engine.Mailet, error) {
	if deps.Archive == nil {
		return nil, fmt.Errorf("Archive requires storage.s3")
	}
	prefix := cfg.Settings.String("prefix", "archive")
	log := deps.Logger.Named("mailet.archive")

	return engine.MailetFunc(func(ctx context.Context, mail *models.Mail) error {
		if mail.Content == nil {
			return fmt.Errorf("mail %s has no content", mail.ID)
		}
		key := path.Join(prefix, mail.ID+".eml")
		if err := deps.Archive.Put(ctx, key, mail.Content.Bytes()); err != nil {
			metrics.IncDelivery("Archive", "failure")
			return err
		}
		metrics.IncDelivery("Archive", "success")
		log.DebugwCtx(ctx, "Mail archived", "key", key)
		return nil
	}), nil
}
