package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/akave-ai/tracectrl/internal/config"
	"github.com/akave-ai/tracectrl/internal/model"
)

var (
	// ErrNotConfigured is returned by a nil *Archive.
	ErrNotConfigured = errors.New("archive not configured")
	// ErrObjectNotFound is returned by Get for a missing key.
	ErrObjectNotFound = errors.New("object not found")
)

const (
	// ContentTypeGzipJSON is the content type of archived batches.
	ContentTypeGzipJSON = "application/gzip"
	// RootPrefix is where every batch key starts.
	RootPrefix  = "logs/"
	batchSuffix = ".json.gz"
)

// Archive stores batches of accepted logs in an S3-compatible bucket (Akave O3, MinIO, S3).
type Archive struct {
	client *s3.Client
	bucket string
}

// NewArchive returns nil, nil when no endpoint is configured, and an error
// when an endpoint is given without a bucket.
func NewArchive(cfg *config.O3Config) (*Archive, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive endpoint %s has no bucket", cfg.Endpoint)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return &Archive{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket unless HeadBucket finds it.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	if a == nil {
		return ErrNotConfigured
	}
	if _, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err == nil {
		return nil
	}
	_, err := a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
	}
	return fmt.Errorf("create bucket %s: %w", a.bucket, err)
}

// Put uploads one object.
func (a *Archive) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if a == nil {
		return ErrNotConfigured
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// ObjectInfo describes one archived batch.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// List returns every object under prefix, following continuation tokens.
func (a *Archive) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if a == nil {
		return nil, ErrNotConfigured
	}
	result := []ObjectInfo{}
	p := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, o := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(o.Key), Size: aws.ToInt64(o.Size)}
			if o.LastModified != nil {
				info.LastModified = *o.LastModified
			}
			result = append(result, info)
		}
	}
	return result, nil
}

// Get downloads one object.
func (a *Archive) Get(ctx context.Context, key string) ([]byte, error) {
	if a == nil {
		return nil, ErrNotConfigured
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
			return nil, fmt.Errorf("get %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// GetLogs downloads a batch and decodes its logs.
func (a *Archive) GetLogs(ctx context.Context, key string) ([]model.Log, error) {
	raw, err := a.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodeBatch(raw)
}

// KeyForBatch returns the key of a client's batch written at t,
// e.g. logs/client-7/2026/10/16/<batch>.json.gz.
func KeyForBatch(clientID int32, batchID string, t time.Time) string {
	return path.Join(ClientPrefix(clientID), t.UTC().Format("2006/01/02"), batchID+batchSuffix)
}

// ClientPrefix is the key prefix under which a client's batches live.
func ClientPrefix(clientID int32) string {
	return fmt.Sprintf("%sclient-%d", RootPrefix, clientID)
}

// EncodeBatch gzips logs as one JSON array.
func EncodeBatch(logs []*model.Log) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(logs); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBatch reverses EncodeBatch.
func DecodeBatch(raw []byte) ([]model.Log, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	var logs []model.Log
	if err := json.NewDecoder(zr).Decode(&logs); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return logs, nil
}
