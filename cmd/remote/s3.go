package remote

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/efektum/mystery-hours/cmd/formatters"
)

// S3API is the subset of the S3 client the drive needs
type S3API interface {
	ListObjectsV2PagesWithContext(ctx aws.Context, input *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// S3Uploader is the subset of s3manager.Uploader the drive needs
type S3Uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// S3Config describes an S3-compatible bucket
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// S3Drive maps folders onto "/"-delimited key prefixes. A folder id is its
// prefix without the trailing slash; the empty id is the bucket root.
type S3Drive struct {
	client   S3API
	uploader S3Uploader
	bucket   string
	logger   *slog.Logger
}

// NewS3Drive creates a drive over an existing client and uploader
func NewS3Drive(client S3API, uploader S3Uploader, bucket string, logger *slog.Logger) *S3Drive {
	return &S3Drive{client: client, uploader: uploader, bucket: bucket, logger: logger}
}

// NewS3DriveFromConfig builds the AWS session and returns a drive for cfg
func NewS3DriveFromConfig(cfg S3Config, logger *slog.Logger) (*S3Drive, error) {
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return NewS3Drive(s3.New(sess), s3manager.NewUploader(sess), cfg.Bucket, logger), nil
}

func prefixOf(folderID string) string {
	if folderID == "" {
		return ""
	}
	return strings.TrimSuffix(folderID, "/") + "/"
}

// ListChildren lists the sub-prefixes and objects directly under parentID
func (d *S3Drive) ListChildren(ctx context.Context, parentID string) ([]Item, error) {
	prefix := prefixOf(parentID)
	var items []Item

	err := d.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, cp := range page.CommonPrefixes {
			id := strings.TrimSuffix(aws.StringValue(cp.Prefix), "/")
			items = append(items, Item{ID: id, Name: path.Base(id), IsFolder: true})
		}
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == prefix {
				continue
			}
			items = append(items, Item{ID: key, Name: path.Base(key)})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list s3://%s/%s: %w", d.bucket, prefix, err)
	}

	return items, nil
}

// CreateFolder writes a zero-byte marker object so the prefix is listable
func (d *S3Drive) CreateFolder(ctx context.Context, parentID, name string) error {
	key := prefixOf(parentID) + name + "/"

	_, err := d.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return fmt.Errorf("failed to create s3://%s/%s: %w", d.bucket, key, err)
	}
	return nil
}

// UploadFile uploads the file as {parent}/{base name}
func (d *S3Drive) UploadFile(ctx context.Context, localPath, parentID string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	name := filepath.Base(localPath)
	key := prefixOf(parentID) + name
	_, err = d.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(formatters.ContentType(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to s3://%s/%s: %w", d.bucket, key, err)
	}

	d.logger.Debug("Uploaded object", "bucket", d.bucket, "key", key)
	return nil
}
