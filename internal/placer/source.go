package placer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"imagemanip/internal/models"
)

// Source is where an original image comes from: an Upload or a Locator.
type Source interface {
	isSource()
}

// Upload is a file sent in the request body.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Locator references an image by http(s) URL or by local path.
type Locator struct {
	Ref string
}

func (Upload) isSource()  {}
func (Locator) isSource() {}

type SourceOptions struct {
	LocalRoot    string
	MaxBytes     int64
	FetchTimeout time.Duration
	Client       *http.Client
}

func SourceOptionsFrom(cfg models.SourceConfig) SourceOptions {
	return SourceOptions{
		LocalRoot:    cfg.LocalRoot,
		MaxBytes:     cfg.MaxBytes,
		FetchTimeout: cfg.FetchTimeout,
	}
}

// open resolves src to its base filename and a reader over its bytes.
func (o SourceOptions) open(ctx context.Context, src Source) (string, io.ReadCloser, error) {
	const op = "placer.openSource"

	switch s := src.(type) {
	case Upload:
		name, err := CleanName(s.Filename)
		if err != nil {
			return "", nil, err
		}
		if s.Body == nil {
			return "", nil, fmt.Errorf("%s: empty upload: %w", op, models.ErrInvalidSource)
		}
		return name, o.limit(io.NopCloser(s.Body)), nil
	case Locator:
		ref := strings.TrimSpace(s.Ref)
		if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			return o.fetch(ctx, u)
		}
		return o.openLocal(ref)
	default:
		return "", nil, fmt.Errorf("%s: unknown source %T: %w", op, src, models.ErrInvalidSource)
	}
}

func (o SourceOptions) fetch(ctx context.Context, u *url.URL) (string, io.ReadCloser, error) {
	const op = "placer.fetch"

	name, err := CleanName(path.Base(u.Path))
	if err != nil {
		return "", nil, err
	}

	cancel := context.CancelFunc(func() {})
	if o.FetchTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.FetchTimeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return "", nil, fmt.Errorf("%s: %v: %w", op, err, models.ErrInvalidSource)
	}
	body, err := o.do(req)
	if err != nil {
		cancel()
		return "", nil, err
	}
	// the timeout spans the whole body read
	return name, &cancelCloser{ReadCloser: o.limit(body), cancel: cancel}, nil
}

func (o SourceOptions) do(req *http.Request) (io.ReadCloser, error) {
	const op = "placer.fetch"

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("url", req.URL.String()).Msg("source fetch failed")
		return nil, fmt.Errorf("%s: %v: %w", op, err, models.ErrInvalidSource)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		log.Warn().Int("status", res.StatusCode).Str("url", req.URL.String()).Msg("unexpected status on source fetch")
		return nil, fmt.Errorf("%s: status %d: %w", op, res.StatusCode, models.ErrInvalidSource)
	}
	return res.Body, nil
}

func (o SourceOptions) openLocal(ref string) (string, io.ReadCloser, error) {
	const op = "placer.openLocal"

	if o.LocalRoot == "" {
		return "", nil, fmt.Errorf("%s: local sources are disabled: %w", op, models.ErrInvalidSource)
	}
	root, err := filepath.EvalSymlinks(o.LocalRoot)
	if err != nil {
		return "", nil, fmt.Errorf("%s: source root: %v: %w", op, err, models.ErrInvalidSource)
	}
	target := ref
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %v: %w", op, err, models.ErrInvalidSource)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", nil, fmt.Errorf("%s: %q is outside the source root: %w", op, ref, models.ErrInvalidSource)
	}

	name, err := CleanName(filepath.Base(ref))
	if err != nil {
		return "", nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %v: %w", op, err, models.ErrInvalidSource)
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		return "", nil, fmt.Errorf("%s: %q is not a regular file: %w", op, ref, models.ErrInvalidSource)
	}
	return name, o.limit(f), nil
}

var errTooLarge = errors.New("source exceeds size limit")

func (o SourceOptions) limit(rc io.ReadCloser) io.ReadCloser {
	return &sourceReader{rc: rc, limit: o.MaxBytes, remaining: o.MaxBytes}
}

// sourceReader marks read failures as source errors and fails, rather than
// truncates, once more than limit bytes are read. A limit <= 0 disables the
// size check.
type sourceReader struct {
	rc        io.ReadCloser
	limit     int64
	remaining int64
}

func (s *sourceReader) Read(p []byte) (int, error) {
	if s.limit > 0 {
		if s.remaining < 0 {
			return 0, fmt.Errorf("placer: %v: %w", errTooLarge, models.ErrInvalidSource)
		}
		if int64(len(p)) > s.remaining+1 {
			p = p[:s.remaining+1]
		}
	}
	n, err := s.rc.Read(p)
	if s.limit > 0 {
		s.remaining -= int64(n)
		if s.remaining < 0 {
			return n, fmt.Errorf("placer: %v: %w", errTooLarge, models.ErrInvalidSource)
		}
	}
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("placer: read source: %v: %w", err, models.ErrInvalidSource)
	}
	return n, err
}

func (s *sourceReader) Close() error { return s.rc.Close() }

type cancelCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelCloser) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
