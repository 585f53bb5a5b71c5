package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/orian/viewcount/models"
)

// Fetcher opens a remote resource for reading. size is -1 when the origin
// does not report a length. A non-success response is a
// *models.NetworkError carrying the status code.
type Fetcher interface {
	Open(ctx context.Context, rawURL string) (body io.ReadCloser, size int64, err error)
}

// HTTPFetcher fetches http and https URLs.
type HTTPFetcher struct {
	Client *http.Client
}

// Open issues a GET for rawURL.
func (h *HTTPFetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, -1, &models.NetworkError{URL: rawURL, Err: err}
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, -1, &models.NetworkError{URL: rawURL, Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(res.Body, 4096)) //nolint:errcheck
		res.Body.Close()

		return nil, -1, &models.NetworkError{URL: rawURL, StatusCode: res.StatusCode}
	}

	return res.Body, res.ContentLength, nil
}

// S3Config holds the connection settings for an S3-compatible origin.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	Secure    bool   `mapstructure:"secure"`
}

// S3Fetcher fetches s3://bucket/key URLs using minio.
type S3Fetcher struct {
	client *minio.Client
}

// NewS3Fetcher creates a minio client for cfg.
func NewS3Fetcher(cfg S3Config) (*S3Fetcher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &S3Fetcher{client: client}, nil
}

// Open fetches the object named by rawURL.
func (s *S3Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	bucket, key, err := splitS3URL(rawURL)
	if err != nil {
		return nil, -1, &models.NetworkError{URL: rawURL, Err: err}
	}

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, -1, s3Error(rawURL, err)
	}

	info, err := obj.Stat()
	if err != nil {
		obj.Close()

		return nil, -1, s3Error(rawURL, err)
	}

	return obj, info.Size, nil
}

func s3Error(rawURL string, err error) error {
	if resp := minio.ToErrorResponse(err); resp.StatusCode != 0 {
		return &models.NetworkError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}

	return &models.NetworkError{URL: rawURL, Err: err}
}

func splitS3URL(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}

	key := strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || u.Host == "" || key == "" {
		return "", "", fmt.Errorf("not an s3://bucket/key url: %q", rawURL)
	}

	return u.Host, key, nil
}

// MultiFetcher dispatches on URL scheme.
type MultiFetcher struct {
	HTTP Fetcher
	S3   Fetcher
}

// Open routes s3:// URLs to S3 and everything else to HTTP.
func (m *MultiFetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	if strings.HasPrefix(rawURL, "s3://") {
		if m.S3 == nil {
			return nil, -1, &models.NetworkError{URL: rawURL, Err: errNoS3}
		}

		return m.S3.Open(ctx, rawURL)
	}

	return m.HTTP.Open(ctx, rawURL)
}
