package placer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"imagemanip/internal/models"
)

// Minio keeps namespaces as key prefixes in a bucket.
type Minio struct {
	client  *minio.Client
	bucket  string
	sources SourceOptions
}

func NewMinio(ctx context.Context, cfg models.MinioConfig, sources SourceOptions) (*Minio, error) {
	const op = "placer.NewMinio"

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("%s: make bucket: %v: %w", op, err, models.ErrStorageUnavailable)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("created bucket")
	}

	return &Minio{client: client, bucket: cfg.Bucket, sources: sources}, nil
}

func (m *Minio) Stage(ctx context.Context, src Source) (Staged, error) {
	const op = "placer.Minio.Stage"

	name, body, err := m.sources.open(ctx, src)
	if err != nil {
		return Staged{}, err
	}
	defer body.Close()

	ns := NewNamespace()
	key := join(ns, name)
	if err := m.put(ctx, key, body); err != nil {
		if errors.Is(err, models.ErrInvalidSource) {
			return Staged{}, fmt.Errorf("%s: %w", op, err)
		}
		return Staged{}, fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}
	return Staged{Namespace: ns, Name: name, Key: key}, nil
}

func (m *Minio) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	const op = "placer.Minio.Open"

	if err := checkKey(key); err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %s: %w", op, key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}
	return obj, nil
}

func (m *Minio) Place(ctx context.Context, namespace, name string, r io.Reader) (string, error) {
	const op = "placer.Minio.Place"

	if !ValidNamespace(namespace) {
		return "", fmt.Errorf("%s: bad namespace %q: %w", op, namespace, models.ErrStorageUnavailable)
	}
	name, err := CleanName(name)
	if err != nil {
		return "", err
	}
	key := join(namespace, name)
	if err := m.put(ctx, key, r); err != nil {
		return "", fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}
	return key, nil
}

func (m *Minio) Remove(ctx context.Context, namespace string) error {
	const op = "placer.Minio.Remove"

	if !ValidNamespace(namespace) {
		return fmt.Errorf("%s: refusing to remove %q: %w", op, namespace, models.ErrNotFound)
	}
	// cancelling stops the lister goroutine when we return early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    namespace + "/",
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("%s: list: %v: %w", op, obj.Err, models.ErrStorageUnavailable)
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("%s: %s: %v: %w", op, obj.Key, err, models.ErrStorageUnavailable)
		}
	}
	return nil
}

func (m *Minio) put(ctx context.Context, key string, r io.Reader) error {
	opts := minio.PutObjectOptions{ContentType: mime.TypeByExtension(path.Ext(key))}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, r, -1, opts)
	return err
}
