package placer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"imagemanip/internal/models"
)

// Local keeps namespaces as directories under Root.
type Local struct {
	Root    string
	sources SourceOptions
}

func NewLocal(root string, sources SourceOptions) (*Local, error) {
	const op = "placer.NewLocal"

	if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(namespacePrefix)), 0o755); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}
	return &Local{Root: root, sources: sources}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.Root, filepath.FromSlash(key))
}

func (l *Local) Stage(ctx context.Context, src Source) (Staged, error) {
	const op = "placer.Local.Stage"

	name, body, err := l.sources.open(ctx, src)
	if err != nil {
		return Staged{}, err
	}
	defer body.Close()

	ns := NewNamespace()
	dir := l.path(ns)
	// Mkdir, not MkdirAll: an existing directory means a namespace collision.
	if err := os.Mkdir(dir, 0o755); err != nil {
		return Staged{}, fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}

	key := join(ns, name)
	if err := atomicWrite(l.path(key), body); err != nil {
		if rerr := os.RemoveAll(dir); rerr != nil {
			log.Warn().Err(rerr).Str("namespace", ns).Msg("could not remove namespace after failed stage")
		}
		if errors.Is(err, models.ErrInvalidSource) {
			return Staged{}, fmt.Errorf("%s: %w", op, err)
		}
		return Staged{}, fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}

	log.Debug().Str("key", key).Msg("staged original")
	return Staged{Namespace: ns, Name: name, Key: key}, nil
}

func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	const op = "placer.Local.Open"

	if err := checkKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %s: %w", op, key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}
	return f, nil
}

func (l *Local) Place(_ context.Context, namespace, name string, r io.Reader) (string, error) {
	const op = "placer.Local.Place"

	if !ValidNamespace(namespace) {
		return "", fmt.Errorf("%s: bad namespace %q: %w", op, namespace, models.ErrStorageUnavailable)
	}
	name, err := CleanName(name)
	if err != nil {
		return "", err
	}
	key := join(namespace, name)
	if err := atomicWrite(l.path(key), r); err != nil {
		return "", fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}
	return key, nil
}

func (l *Local) Remove(_ context.Context, namespace string) error {
	const op = "placer.Local.Remove"

	if !ValidNamespace(namespace) {
		return fmt.Errorf("%s: refusing to remove %q: %w", op, namespace, models.ErrNotFound)
	}
	if err := os.RemoveAll(l.path(namespace)); err != nil {
		return fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}
	return nil
}

// atomicWrite writes data to path through a temp file in the same directory.
// The directory must exist.
func atomicWrite(path string, data io.Reader) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp to final: %w", err)
	}
	return nil
}
