package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
)

// DefaultLocalDir is used when no directory is configured
const DefaultLocalDir = "documents"

// Local stores objects as files under a root directory
type Local struct {
	root string
}

func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		dir = DefaultLocalDir
	}
	if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage dir %s", dir)
	}
	return &Local{root: dir}, nil
}

func (l *Local) path(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(key)), nil
}

func (l *Local) Put(_ context.Context, key string, r io.Reader) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), am.DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create dir for %s", key)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, am.DefaultFilePermissions)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", key)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %s", key)
	}
	return f.Close()
}

func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, errors.NewNotFoundError("object %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", key)
	}
	return f, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete %s", key)
	}
	return nil
}

func (l *Local) Close() error { return nil }
