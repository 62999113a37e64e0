package media

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
)

// S3Options configures the S3 uploader.
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// PublicURL is the base URL objects are served from. When empty the
	// location reported by S3 is used.
	PublicURL string
}

// S3Uploader uploads images to an S3 compatible bucket.
type S3Uploader struct {
	uploader  *s3manager.Uploader
	bucket    string
	publicURL string
}

// NewS3Uploader creates an uploader session.
func NewS3Uploader(o S3Options) (*S3Uploader, error) {
	cfg := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(o.AccessKey, o.SecretKey, ""),
		Region:           aws.String(o.Region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if o.Endpoint != "" {
		cfg.Endpoint = aws.String(o.Endpoint)
	}

	s, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 session: %w", err)
	}

	return &S3Uploader{
		uploader:  s3manager.NewUploader(s),
		bucket:    o.Bucket,
		publicURL: strings.TrimRight(o.PublicURL, "/"),
	}, nil
}

// Upload stores img under folder with a random name.
func (u *S3Uploader) Upload(ctx context.Context, folder string, img *Image) (string, error) {
	key := ObjectKey(folder, img.Extension)

	out, err := u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(img.Data),
		ContentType: aws.String(img.MIME),
		ACL:         aws.String("public-read"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload %s: %w", key, err)
	}

	if u.publicURL != "" {
		return u.publicURL + "/" + key, nil
	}
	return out.Location, nil
}

// ObjectKey builds "<folder>/<uuid>.<ext>".
func ObjectKey(folder, ext string) string {
	name := uuid.NewString()
	if ext != "" {
		name += "." + ext
	}
	return path.Join(folder, name)
}
