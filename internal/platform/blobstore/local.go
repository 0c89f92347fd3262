// Package blobstore is the local-filesystem evidence store used in
// development and tests. URIs have the form blob://<fund>/<evidence>/<folder>/<filename>.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	id "fundops/pkg/domain"
)

const scheme = "blob://"

type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("blob root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Local{root: abs}, nil
}

// ReserveURI names the location an upload must be written to. Nothing is
// created until Put.
func (l *Local) ReserveURI(_ context.Context, fundID id.FundID, evidenceID id.EvidenceID, folder, filename string) (string, error) {
	rel := path.Join(fundID.String(), evidenceID.String(), folder, filename)
	if _, err := l.resolve(scheme + rel); err != nil {
		return "", err
	}
	return scheme + rel, nil
}

func (l *Local) Exists(_ context.Context, uri string) (bool, error) {
	p, err := l.resolve(uri)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Put writes content at uri, replacing anything already there.
func (l *Local) Put(_ context.Context, uri string, r io.Reader) error {
	p, err := l.resolve(uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// resolve maps uri to a path under the root and refuses anything outside it.
func (l *Local) resolve(uri string) (string, error) {
	rel, ok := strings.CutPrefix(uri, scheme)
	if !ok || rel == "" {
		return "", fmt.Errorf("unsupported blob uri %q", uri)
	}
	clean := path.Clean("/" + rel)
	if clean != "/"+rel {
		return "", fmt.Errorf("blob uri %q is not canonical", uri)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}
