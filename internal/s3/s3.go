// Package s3 uploads recovery outputs to S3-compatible object storage.
package s3

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Client struct {
	mc *minio.Client
}

func New(endpoint, accessKey, secretKey, region string, useSSL bool) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}
	return &Client{mc: mc}, nil
}

// EnsureBucket creates bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context, bucket, region string) error {
	ok, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func (c *Client) DownloadToFile(ctx context.Context, bucket, key, filePath string) error {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, obj)
	return err
}

func (c *Client) UploadFile(ctx context.Context, bucket, key, filePath string, contentType string) error {
	_, err := c.mc.FPutObject(ctx, bucket, key, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// skipDirs are not uploaded: the extractor's scratch tree is reproducible
// from the target.
var skipDirs = map[string]bool{"extract": true}

// UploadDir uploads every regular file under dir to bucket beneath prefix,
// keeping relative paths. It returns the number of objects written.
func (c *Client) UploadDir(ctx context.Context, bucket, prefix, dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := ObjectKey(prefix, rel)
		if err := c.UploadFile(ctx, bucket, key, p, ContentType(p)); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		n++
		return nil
	})
	return n, err
}

// ObjectKey joins prefix and a relative file path with forward slashes.
func ObjectKey(prefix, rel string) string {
	return path.Join(strings.Trim(prefix, "/"), filepath.ToSlash(rel))
}

func ContentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json":
		return "application/json"
	case ".ndjson":
		return "application/x-ndjson"
	case ".txt", ".py", ".das":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// Publisher uploads run output directories under runs/<run id>/.
type Publisher struct {
	client *Client
	bucket string
}

func NewPublisher(c *Client, bucket string) *Publisher {
	return &Publisher{client: c, bucket: bucket}
}

// RunPrefix is the key prefix of a run's objects.
func RunPrefix(runID string) string { return "runs/" + runID }

// Publish uploads dir and returns the location of its report.json.
func (p *Publisher) Publish(ctx context.Context, runID, dir string) (string, string, error) {
	prefix := RunPrefix(runID)
	if _, err := p.client.UploadDir(ctx, p.bucket, prefix, dir); err != nil {
		return "", "", err
	}
	return p.bucket, ObjectKey(prefix, "report.json"), nil
}
