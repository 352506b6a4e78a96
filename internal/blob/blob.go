// Package blob stores uploaded images, either in an S3-compatible bucket or
// inline as data URLs when no bucket is configured.
package blob

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"gemcast/internal/util"
)

// MaxUploadSize is the largest accepted file.
const MaxUploadSize = 5 << 20

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrTooLarge        = errors.New("file size should be less than 5MB")
	ErrUnsupportedType = errors.New("file type should be JPEG or PNG")
)

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

type Object struct {
	URL         string `json:"url"`
	Pathname    string `json:"pathname"`
	ContentType string `json:"contentType"`
}

type Store interface {
	Put(ctx context.Context, filename string, data []byte) (Object, error)
}

// Sniff checks size and content and returns the detected content type.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if len(data) > MaxUploadSize {
		return "", ErrTooLarge
	}
	contentType := http.DetectContentType(data)
	if _, ok := allowedTypes[contentType]; !ok {
		return "", ErrUnsupportedType
	}
	return contentType, nil
}

// Pathname builds a unique object key that keeps a readable filename.
func Pathname(filename, contentType string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := path.Ext(base)
	stem := sanitize(strings.TrimSuffix(base, ext))
	if stem == "" {
		stem = "upload"
	}
	return fmt.Sprintf("uploads/%s-%s%s", util.NewID(""), stem, allowedTypes[contentType])
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == ' ', r == '.':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// Inline encodes uploads as data URLs.
type Inline struct{}

func (Inline) Put(_ context.Context, filename string, data []byte) (Object, error) {
	contentType, err := Sniff(data)
	if err != nil {
		return Object{}, err
	}
	return Object{
		URL:         "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
		Pathname:    Pathname(filename, contentType),
		ContentType: contentType,
	}, nil
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

type Minio struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinio connects to the bucket endpoint and creates the bucket when it
// does not exist yet.
func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return &Minio{client: client, bucket: cfg.Bucket, publicURL: publicURL}, nil
}

func (m *Minio) Put(ctx context.Context, filename string, data []byte) (Object, error) {
	contentType, err := Sniff(data)
	if err != nil {
		return Object{}, err
	}
	pathname := Pathname(filename, contentType)
	_, err = m.client.PutObject(ctx, m.bucket, pathname, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object %s: %w", pathname, err)
	}
	return Object{
		URL:         m.publicURL + "/" + pathname,
		Pathname:    pathname,
		ContentType: contentType,
	}, nil
}
