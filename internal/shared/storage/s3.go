package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nextconvert/editor/internal/shared/config"
)

// S3Backend stores zones as key prefixes of one bucket (AWS S3, MinIO, etc.)
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend creates a new S3 storage backend
func NewS3Backend(cfg config.StorageConfig) (*S3Backend, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required for s3 storage backend")
	}

	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}

	// Without static keys the default credential chain applies
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Backend{client: client, bucket: cfg.S3Bucket}, nil
}

func zonePrefix(zone Zone) string {
	return string(zone) + "/"
}

// Store uploads reader as zone/filename. PutObject needs a length, so
// non-seekable readers are spooled to a temp file first.
func (b *S3Backend) Store(ctx context.Context, zone Zone, filename, contentType string, reader io.Reader) (string, error) {
	key := path.Join(string(zone), filename)

	body, size, cleanup, err := sizedBody(reader)
	if err != nil {
		return "", err
	}
	defer cleanup()

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		Metadata:      map[string]string{"zone": string(zone)},
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload of %s failed: %w", key, err)
	}
	return key, nil
}

func sizedBody(reader io.Reader) (io.Reader, int64, func(), error) {
	if seeker, ok := reader.(io.ReadSeeker); ok {
		current, err := seeker.Seek(0, io.SeekCurrent)
		if err == nil {
			if end, err := seeker.Seek(0, io.SeekEnd); err == nil {
				if _, err := seeker.Seek(current, io.SeekStart); err == nil {
					return seeker, end - current, func() {}, nil
				}
			}
		}
	}

	tmp, err := os.CreateTemp("", "s3-upload-*")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	size, err := io.Copy(tmp, reader)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("failed to spool upload: %w", err)
	}
	return tmp, size, cleanup, nil
}

func (b *S3Backend) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 download of %s failed: %w", key, err)
	}
	return resp.Body, nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete of %s failed: %w", key, err)
	}
	return nil
}

// Stat returns nil without error for missing objects
func (b *S3Backend) Stat(ctx context.Context, key string) (*Object, error) {
	resp, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 head of %s failed: %w", key, err)
	}
	return &Object{
		Path:    key,
		Size:    aws.ToInt64(resp.ContentLength),
		ModTime: aws.ToTime(resp.LastModified),
	}, nil
}

// List returns every object of the zone with its size and modification time
func (b *S3Backend) List(ctx context.Context, zone Zone) ([]Object, error) {
	var objects []Object

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(zonePrefix(zone)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list of %s failed: %w", zone, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Path:    aws.ToString(obj.Key),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// Lookup lists the keys of zone starting with fileID and returns the first
func (b *S3Backend) Lookup(ctx context.Context, zone Zone, fileID string) (*Object, error) {
	resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(zonePrefix(zone) + fileID),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 lookup of %s failed: %w", fileID, err)
	}
	if len(resp.Contents) == 0 {
		return nil, nil
	}
	obj := resp.Contents[0]
	return &Object{
		Path:    aws.ToString(obj.Key),
		Size:    aws.ToInt64(obj.Size),
		ModTime: aws.ToTime(obj.LastModified),
	}, nil
}

// PresignDownloadURL generates a time-limited GET URL for a stored object
func (b *S3Backend) PresignDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(b.client)

	resp, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(b.bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String("attachment; filename=\"" + path.Base(key) + "\""),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return resp.URL, nil
}

// isNotFound matches typed not-found errors and bare 404s, which HeadObject
// returns without an error code
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
