// Package store writes tiler outputs. Every implementation makes an object appear whole or
// not at all: a failed or cancelled Put never leaves a truncated object at its key.
package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
)

// Store is an output sink keyed by slash separated names such as "age/age_000_001.blk".
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Open selects a Store from uri:
//
//	/some/dir, file:///some/dir  local filesystem
//	gs://bucket/prefix           Google Cloud Storage
//	s3://bucket/prefix           S3 (BLKTILER_S3_REGION, BLKTILER_S3_ENDPOINT, BLKTILER_S3_PATH_STYLE)
//	mem://                       in memory
func Open(ctx context.Context, uri string) (Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("empty output uri")
	}
	if !strings.Contains(uri, "://") {
		return NewLocal(uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse output uri %s: %w", uri, err)
	}
	prefix := strings.Trim(u.Path, "/")
	switch u.Scheme {
	case "file":
		return NewLocal(u.Path)
	case "gs":
		return NewGCS(ctx, u.Host, prefix)
	case "s3":
		return NewS3(ctx, S3Config{
			Bucket:    u.Host,
			Prefix:    prefix,
			Region:    os.Getenv("BLKTILER_S3_REGION"),
			Endpoint:  os.Getenv("BLKTILER_S3_ENDPOINT"),
			PathStyle: strings.EqualFold(os.Getenv("BLKTILER_S3_PATH_STYLE"), "true"),
		})
	case "mem":
		return NewMem(), nil
	}
	return nil, fmt.Errorf("unsupported output scheme %q", u.Scheme)
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("invalid key %q", key)
		}
	}
	return nil
}
