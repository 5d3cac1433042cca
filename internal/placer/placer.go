// Package placer allocates per-request storage namespaces and writes original
// and derived images into them.
package placer

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"imagemanip/internal/models"
)

const namespacePrefix = "images/"

// Placer stores the files of one manipulation under a namespace. Keys are
// slash-separated and relative to the placer root: images/<uuid>/<name>.
type Placer interface {
	// Stage allocates a fresh namespace and writes the original into it. On
	// error nothing is left behind.
	Stage(ctx context.Context, src Source) (Staged, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Place(ctx context.Context, namespace, name string, r io.Reader) (string, error)
	// Remove deletes a namespace and everything in it. Missing namespaces are
	// not an error.
	Remove(ctx context.Context, namespace string) error
}

type Staged struct {
	Namespace string
	Name      string
	Key       string
}

func NewNamespace() string {
	return namespacePrefix + uuid.NewString()
}

// ValidNamespace reports whether ns has the images/<uuid> shape produced by
// NewNamespace.
func ValidNamespace(ns string) bool {
	rest, ok := strings.CutPrefix(ns, namespacePrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil && !strings.Contains(rest, "/")
}

// NamespaceOf returns the namespace of a key produced by a Placer.
func NamespaceOf(key string) (string, bool) {
	ns := path.Dir(key)
	return ns, ValidNamespace(ns)
}

// DerivedName turns photo.jpg into photo-resized.jpg.
func DerivedName(original string) string {
	ext := path.Ext(original)
	stem := strings.TrimSuffix(original, ext)
	return stem + "-resized" + ext
}

// CleanName reduces a client supplied filename to a safe base name.
func CleanName(name string) (string, error) {
	const op = "placer.CleanName"

	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", fmt.Errorf("%s: %q: %w", op, name, models.ErrInvalidSource)
	}
	return base, nil
}

func join(namespace, name string) string {
	return path.Join(namespace, name)
}

// checkKey rejects keys that would escape their namespace.
func checkKey(key string) error {
	if _, ok := NamespaceOf(key); !ok || path.Clean(key) != key {
		return fmt.Errorf("placer: bad key %q: %w", key, models.ErrNotFound)
	}
	return nil
}
