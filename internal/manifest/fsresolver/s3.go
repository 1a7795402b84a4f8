package fsresolver

import (
	"bytes"
	"context"
	"io"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sony/gobreaker/v2"
)

// s3FS reads sidecars and parquet files out of one S3-compatible endpoint.
// Every Open call runs through a shared circuit breaker so a flaky
// endpoint fails fast across every root sharing this (endpoint,
// access_key) pair instead of retry-storming it per root.
type s3FS struct {
	client  *s3.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	bucket  string
	prefix  string
}

func newS3FS(ctx context.Context, creds Credentials) (*s3FS, error) {
	var opts []func(*config.LoadOptions) error
	if creds.Region != "" {
		opts = append(opts, config.WithRegion(creds.Region))
	}
	if creds.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, "")))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &Error{Kind: NetworkError, Msg: "loading aws config", Err: err}
	}

	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if creds.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(creds.Endpoint)
		}
		if creds.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	breakerSettings := gobreaker.Settings{
		Name: "s3-manifest",
	}
	breaker := gobreaker.NewCircuitBreaker[[]byte](breakerSettings)

	return &s3FS{client: client, breaker: breaker}, nil
}

func (f *s3FS) key(name string) string {
	if f.prefix == "" {
		return name
	}
	return f.prefix + "/" + name
}

// Open fetches the full object body through the circuit breaker and wraps
// it in an in-memory reader. Chunk files are read whole (the manifest
// reader opens one per sidecar, not per query), so a full download is the
// same cost a streaming reader would eventually pay.
func (f *s3FS) Open(ctx context.Context, name string) (ReadSeekCloser, error) {
	key := f.key(name)
	data, err := f.breaker.Execute(func() ([]byte, error) {
		out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: awssdk.String(f.bucket),
			Key:    awssdk.String(key),
		})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	})
	if err != nil {
		return nil, &Error{Kind: NetworkError, Msg: "GetObject " + f.bucket + "/" + key, Err: err}
	}
	return nopCloser{bytes.NewReader(data)}, nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
