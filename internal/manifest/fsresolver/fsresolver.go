// Package fsresolver resolves a manifest root (a local directory or an
// s3://bucket/prefix URI) to a ChunkFileSystem, and caches the resulting
// filesystem handle by (endpoint, access_key) rather than by root path, per
// Design Note §9: two roots on the same S3 endpoint/credential pair share
// one client and one circuit breaker instead of opening a new connection
// pool per root.
package fsresolver

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ChunkFileSystem is the minimal read surface the manifest reader needs:
// opening a named file for seekable reads.
type ChunkFileSystem interface {
	// Open returns a seekable reader for name, relative to the
	// filesystem's root.
	Open(ctx context.Context, name string) (ReadSeekCloser, error)
}

// ReadSeekCloser is what the Parquet reader needs: random access plus
// sequential reads (for JSON decoding of checkpoints/sidecars) and Close.
type ReadSeekCloser interface {
	io.ReaderAt
	io.Reader
	io.Seeker
	io.Closer
}

// Credentials configure access to an S3-backed root. An empty
// Credentials{} selects the platform default credential chain.
type Credentials struct {
	AccessKey string
	SecretKey string
	Endpoint  string
	Region    string
}

// registryKey is (endpoint, access_key) — the dedup key Design Note §9
// calls for, not the root path (so two roots in the same bucket/prefix
// family, or even different buckets on the same endpoint/creds, share one
// client).
type registryKey struct {
	endpoint  string
	accessKey string
}

// Registry caches constructed filesystems by (endpoint, access_key).
// Safe for concurrent use; registration is serialized under one mutex,
// matching the manifest reader's own concurrency discipline.
type Registry struct {
	mu    sync.Mutex
	local map[string]ChunkFileSystem // keyed by absolute local root path
	s3    map[registryKey]ChunkFileSystem
}

func NewRegistry() *Registry {
	return &Registry{
		local: make(map[string]ChunkFileSystem),
		s3:    make(map[registryKey]ChunkFileSystem),
	}
}

// Resolve returns the ChunkFileSystem for root, constructing and caching
// one if this is the first time root's backing endpoint/credentials have
// been seen.
func (r *Registry) Resolve(ctx context.Context, root string, creds Credentials) (ChunkFileSystem, error) {
	if !strings.HasPrefix(root, "s3://") {
		return r.resolveLocal(root)
	}
	return r.resolveS3(ctx, root, creds)
}

func (r *Registry) resolveLocal(root string) (ChunkFileSystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, wrapFileMissing(root, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if fs, ok := r.local[abs]; ok {
		return fs, nil
	}
	fs := &localFS{root: abs}
	r.local[abs] = fs
	return fs, nil
}

func (r *Registry) resolveS3(ctx context.Context, root string, creds Credentials) (ChunkFileSystem, error) {
	u, err := url.Parse(root)
	if err != nil {
		return nil, wrapFileMissing(root, err)
	}
	bucket := u.Host
	prefix := strings.TrimPrefix(u.Path, "/")

	key := registryKey{endpoint: creds.Endpoint, accessKey: creds.AccessKey}

	r.mu.Lock()
	defer r.mu.Unlock()
	if fs, ok := r.s3[key]; ok {
		return withBucketPrefix(fs, bucket, prefix), nil
	}

	fs, err := newS3FS(ctx, creds)
	if err != nil {
		return nil, err
	}
	r.s3[key] = fs
	return withBucketPrefix(fs, bucket, prefix), nil
}

// withBucketPrefix scopes a shared *s3FS client to a specific bucket and
// key prefix for one root, without constructing a new client.
func withBucketPrefix(fs ChunkFileSystem, bucket, prefix string) ChunkFileSystem {
	base := fs.(*s3FS)
	return &s3FS{client: base.client, breaker: base.breaker, bucket: bucket, prefix: prefix}
}

type localFS struct {
	root string
}

func (f *localFS) Open(_ context.Context, name string) (ReadSeekCloser, error) {
	full := filepath.Join(f.root, name)
	file, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wrapFileMissing(full, err)
		}
		return nil, wrapFileMissing(full, err)
	}
	return file, nil
}

func wrapFileMissing(path string, err error) error {
	return &Error{Kind: FileMissing, Msg: "resolving " + path, Err: err}
}
