package eval

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type ReportStoreConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

// ReportUploader pushes finished eval result files to object storage so
// runs survive the eval host.
type ReportUploader struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewReportUploader(cfg ReportStoreConfig) (*ReportUploader, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("report store endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("report store bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init report store client: %w", err)
	}
	return &ReportUploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Upload stores the local results file under a timestamped object key and
// returns that key.
func (u *ReportUploader) Upload(ctx context.Context, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("stat results file: %w", err)
	}

	key := path.Join(u.prefix, time.Now().UTC().Format("2006-01-02T15-04-05Z")+"-"+path.Base(localPath))
	_, err = u.client.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload results (%d bytes): %w", info.Size(), err)
	}
	return key, nil
}
