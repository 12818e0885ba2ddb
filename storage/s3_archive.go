package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the slice of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver mirrors processed feed files to an S3 bucket under
// <prefix>/<yyyy>/<mm>/<dd>/<file name>.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archiver loads the default AWS credential chain for region.
func NewS3Archiver(ctx context.Context, bucket, region, prefix string) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	return NewS3ArchiverWithClient(s3.NewFromConfig(awsCfg), bucket, prefix), nil
}

// NewS3ArchiverWithClient builds an archiver on any ObjectPutter.
func NewS3ArchiverWithClient(client ObjectPutter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// Key returns the object key a file called name is stored under.
func (a *S3Archiver) Key(name string) string {
	return path.Join(a.prefix, a.now().UTC().Format("2006/01/02"), filepath.Base(name))
}

// Archive uploads the file at p.
func (a *S3Archiver) Archive(ctx context.Context, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("s3: open %q: %w", p, err)
	}
	defer f.Close()

	key := a.Key(p)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(p)),
	})
	if err != nil {
		return fmt.Errorf("s3: put %s/%s: %w", a.bucket, key, err)
	}
	return nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".zip":
		return "application/zip"
	case ".xml":
		return "application/xml"
	default:
		return "application/octet-stream"
	}
}
