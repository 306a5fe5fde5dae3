/*
Copyright © 2018 the gridsubset authors.
This file is part of gridsubset.

gridsubset is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gridsubset is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gridsubset.  If not, see <http://www.gnu.org/licenses/>.
*/


// Package storage holds job output files and persisted job tables in
// blob storage buckets.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/spatialmodel/gridsubset"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
	"gocloud.dev/gcp"
)

// OpenBucket returns the blob storage bucket specified by bucketURL,
// which must be in the format 'provider://name'.
// The accepted storage providers are "file" for a directory on the local
// filesystem, "gs" for Google Cloud Storage, "s3" for AWS S3, and "mem"
// for an in-memory bucket (e.g., for testing). For "file", name is the
// directory, which must already exist.
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parsing bucket URL: %w", err)
	}
	switch u.Scheme {
	case "file":
		dir := u.Host + u.Path
		if dir == "" {
			return nil, fmt.Errorf("storage: missing directory in bucket URL %s", bucketURL)
		}
		return fileblob.OpenBucket(dir, nil)
	case "gs":
		return gsBucket(ctx, u.Hostname())
	case "s3":
		return s3Bucket(ctx, u.Hostname())
	case "mem":
		return memblob.OpenBucket(nil), nil
	default:
		return nil, fmt.Errorf("storage: invalid provider %q", u.Scheme)
	}
}

func gsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	// See here for information on credentials:
	// https://cloud.google.com/docs/authentication/getting-started
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, c, name, nil)
}

// s3Bucket opens an s3 storage bucket. It assumes the following
// environment variables are set: AWS_REGION, AWS_ACCESS_KEY_ID, and
// AWS_SECRET_ACCESS_KEY.
func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-2"
	}
	c := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	s, err := session.NewSession(c)
	if err != nil {
		return nil, fmt.Errorf("storage: creating AWS session: %w", err)
	}
	return s3blob.OpenBucket(ctx, s, name, nil)
}

// Store is a view of a bucket in which every key has a common prefix.
// It is safe for concurrent use.
type Store struct {
	bucket *blob.Bucket
	prefix string
}

// New returns a Store holding the keys of b that start with prefix.
func New(b *blob.Bucket, prefix string) *Store {
	return &Store{bucket: b, prefix: cleanPrefix(prefix)}
}

// Open opens the bucket at bucketURL. Except for "file" URLs, the
// path of the URL becomes the key prefix, so "gs://bucket/jobs" stores
// keys under "jobs/" in bucket "bucket".
func Open(ctx context.Context, bucketURL string) (*Store, error) {
	b, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	var prefix string
	if u, _ := url.Parse(bucketURL); u.Scheme != "file" {
		prefix = u.Path
	}
	return New(b, prefix), nil
}

func cleanPrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// Sub returns a Store for the keys under dir.
func (s *Store) Sub(dir string) *Store {
	return &Store{bucket: s.bucket, prefix: cleanPrefix(path.Join(s.prefix, dir))}
}

func (s *Store) key(k string) string { return s.prefix + k }

// Put copies the contents of r into the object key.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	// Cancelling ctx before Close discards the write.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := s.bucket.NewWriter(ctx, s.key(key), &blob.WriterOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return fmt.Errorf("storage: creating writer for %s: %w", key, err)
	}
	if _, err = io.Copy(w, r); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("storage: copying %s: %w", key, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("storage: writing %s: %w", key, err)
	}
	return nil
}

// WriteAll replaces the object key with data.
func (s *Store) WriteAll(ctx context.Context, key string, data []byte) error {
	return s.Put(ctx, key, bytes.NewReader(data))
}

// Get opens the object key for reading. If it does not exist, the error
// is of kind gridsubset.NotFound.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, s.key(key), nil)
	if err != nil {
		return nil, s.wrap(err, key, "opening")
	}
	return r, nil
}

// ReadAll returns the contents of the object key. If it does not exist,
// the error is of kind gridsubset.NotFound.
func (s *Store) ReadAll(ctx context.Context, key string) ([]byte, error) {
	b, err := s.bucket.ReadAll(ctx, s.key(key))
	if err != nil {
		return nil, s.wrap(err, key, "reading")
	}
	return b, nil
}

// Exists reports whether the object key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Attributes(ctx, s.key(key))
	switch {
	case err == nil:
		return true, nil
	case gcerrors.Code(err) == gcerrors.NotFound:
		return false, nil
	default:
		return false, fmt.Errorf("storage: checking %s: %w", key, err)
	}
}

// Delete deletes the object key. Deleting an object that does not exist
// is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, s.key(key))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("storage: deleting %s: %w", key, err)
	}
	return nil
}

// List returns the keys in the store, relative to its prefix.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var o []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("storage: listing %s: %w", s.prefix, err)
		}
		if !obj.IsDir {
			o = append(o, strings.TrimPrefix(obj.Key, s.prefix))
		}
	}
	return o, nil
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".nc", ".csv":
		return gridsubset.FormatFromName(key).ContentType()
	default:
		return "application/octet-stream"
	}
}

func (s *Store) wrap(err error, key, action string) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return gridsubset.WrapError(gridsubset.NotFound, err, fmt.Sprintf("object %s does not exist", key))
	}
	return gridsubset.WrapError(gridsubset.IOError, err, fmt.Sprintf("%s %s", action, key))
}
