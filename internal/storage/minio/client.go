// Package minio implements storage.ObjectStorage against a MinIO (or any
// S3-compatible) endpoint.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLExpiry time.Duration // presigned GET lifetime
}

type Client struct {
	mc     *minio.Client
	cfg    Config
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "expense-exports"
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 7 * 24 * time.Hour
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Client{mc: mc, cfg: cfg, logger: logger}, nil
}

// EnsureBucket creates the target bucket if it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket check: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, c.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// Put uploads the artifact and returns a presigned, browser-fetchable URL.
// MinIO object puts are atomic, so a failure never leaves a partial object.
func (c *Client) Put(ctx context.Context, objectName string, data []byte) (string, error) {
	start := time.Now()

	// Presign before uploading. Object names are versioned per call, so an
	// error reported after a successful upload would make the retry write
	// the same bytes under a new name and orphan the first object. The
	// signature is computed locally and does not require the object to
	// exist yet.
	u, err := c.mc.PresignedGetObject(ctx, c.cfg.Bucket, objectName, c.cfg.URLExpiry, url.Values{})
	if err != nil {
		c.logger.Error("storage.presign.failed", "object", objectName, "error", err)
		return "", fmt.Errorf("presign object: %w", err)
	}

	info, err := c.mc.PutObject(ctx, c.cfg.Bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		c.logger.Error("storage.put.failed", "object", objectName, "error", err)
		return "", fmt.Errorf("put object: %w", err)
	}

	c.logger.Info("storage.put.ok",
		"object", objectName,
		"bytes", info.Size,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return u.String(), nil
}
