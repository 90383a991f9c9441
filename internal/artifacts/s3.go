// Package artifacts uploads collected sandbox files to S3-compatible
// object storage. CollectArtifacts fetches bytes and computes SHA-256
// itself and only hands already-local data to this uploader.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
)

// Config carries the S3_* environment variables.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Enabled reports whether enough configuration is present to construct
// an Uploader.
func (c Config) Enabled() bool { return c.Bucket != "" }

// Uploader pushes collected artifact files to the configured bucket.
// Constructing one is optional: cmd/node only builds an Uploader when
// Config.Enabled(), and CollectArtifacts works without one, it simply
// skips the upload step and returns just path/sha256/size.
type Uploader struct {
	client *s3.Client
	bucket string
}

// New constructs an Uploader from Config. If AccessKey is empty, the
// default AWS credential chain is used (IAM instance profile).
func New(cfg Config) (*Uploader, error) {
	var client *s3.Client

	if cfg.AccessKey != "" {
		opts := []func(*s3.Options){
			func(o *s3.Options) {
				o.Region = cfg.Region
				o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
				if cfg.Endpoint != "" {
					o.BaseEndpoint = aws.String(cfg.Endpoint)
					o.UsePathStyle = true
				}
			},
		}
		client = s3.New(s3.Options{}, opts...)
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("artifacts: load aws config: %w", err)
		}
		var s3Opts []func(*s3.Options)
		if cfg.Endpoint != "" {
			s3Opts = append(s3Opts, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			})
		}
		client = s3.NewFromConfig(awsCfg, s3Opts...)
	}

	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

// Upload puts localPath's contents at key and returns the object's
// size in bytes.
func (u *Uploader) Upload(ctx context.Context, key, localPath string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("artifacts: open %q: %w", localPath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("artifacts: stat %q: %w", localPath, err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return 0, fmt.Errorf("artifacts: upload %q: %w", key, err)
	}
	return stat.Size(), nil
}

// UploadBytes zstd-compresses data in memory and puts it at key with a
// ".zst" suffix. Used by CollectArtifacts, which already holds the file
// bytes from the guest fetch.
func (u *Uploader) UploadBytes(ctx context.Context, key string, data []byte) error {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("artifacts: zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return fmt.Errorf("artifacts: compress %q: %w", key, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("artifacts: compress %q: %w", key, err)
	}

	compressed := buf.Bytes()
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key + ".zst"),
		Body:          bytes.NewReader(compressed),
		ContentLength: aws.Int64(int64(len(compressed))),
	})
	if err != nil {
		return fmt.Errorf("artifacts: upload %q: %w", key, err)
	}
	return nil
}
