package blob

import (
	"context"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/teranos/jobpulse/errors"
)

// GCS stores objects in a single Cloud Storage bucket
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCS connects with application default credentials
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	if bucket == "" {
		return nil, errors.NewInvalidRequestError("gcs storage requires a bucket")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.WrapExternalService(err, "storage")
	}
	return &GCS{client: client, bucket: client.Bucket(bucket)}, nil
}

func (g *GCS) Put(ctx context.Context, key string, r io.Reader) error {
	if err := validKey(key); err != nil {
		return err
	}
	w := g.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return errors.Wrapf(errors.WrapExternalService(err, "storage"), "failed to write %s", key)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(errors.WrapExternalService(err, "storage"), "failed to finalize %s", key)
	}
	return nil
}

func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	r, err := g.bucket.Object(key).NewReader(ctx)
	if notExist(err) {
		return nil, errors.NewNotFoundError("object %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(errors.WrapExternalService(err, "storage"), "failed to open %s", key)
	}
	return r, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := g.bucket.Object(key).Delete(ctx)
	if err == nil || notExist(err) {
		return nil
	}
	return errors.Wrapf(errors.WrapExternalService(err, "storage"), "failed to delete %s", key)
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func notExist(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
