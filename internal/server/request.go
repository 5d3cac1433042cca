package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"imagemanip/internal/dimension"
	"imagemanip/internal/models"
	"imagemanip/internal/placer"
	"imagemanip/internal/workflow"
)

const (
	imageField = "image"
	// maxFieldBytes caps a single non-file form value.
	maxFieldBytes = 64 << 10
)

// fieldError is a validation failure on a named input field.
type fieldError struct {
	Field string
	Msg   string
}

func (e *fieldError) Error() string { return e.Field + ": " + e.Msg }

func (e *fieldError) Unwrap() error { return models.ErrInvalidInput }

func invalidField(field, format string, args ...any) error {
	return &fieldError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// resizeForm is a resize submission read in field order. An uploaded file is
// spooled to a temp file so later fields can still be read.
type resizeForm struct {
	params   models.Params
	locator  string
	upload   *os.File
	fileName string
}

func (f *resizeForm) Close() {
	if f.upload != nil {
		name := f.upload.Name()
		f.upload.Close()
		os.Remove(name)
	}
}

func (f *resizeForm) source() (placer.Source, error) {
	if f.upload != nil {
		return placer.Upload{Filename: f.fileName, Body: f.upload}, nil
	}
	if strings.TrimSpace(f.locator) != "" {
		return placer.Locator{Ref: strings.TrimSpace(f.locator)}, nil
	}
	return nil, invalidField(imageField, "is required")
}

// readResizeForm accepts multipart, urlencoded and JSON bodies. Every field
// except the image is kept in submission order.
func readResizeForm(c *gin.Context, maxBytes int64) (*resizeForm, error) {
	const op = "server.readResizeForm"

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+maxFieldBytes*16)

	var (
		form *resizeForm
		err  error
	)
	switch c.ContentType() {
	case gin.MIMEMultipartPOSTForm:
		form, err = readMultipart(c.Request, maxBytes)
	case gin.MIMEJSON:
		form, err = readJSON(c.Request.Body)
	default:
		form, err = readURLEncoded(c.Request.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return form, nil
}

func readMultipart(r *http.Request, maxBytes int64) (*resizeForm, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	form := &resizeForm{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			form.Close()
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
		}

		name := part.FormName()
		switch {
		case name == "":
		case part.FileName() != "":
			if name != imageField || form.upload != nil {
				break
			}
			if err := form.spool(part, maxBytes); err != nil {
				part.Close()
				form.Close()
				return nil, err
			}
			form.fileName = part.FileName()
		default:
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
			if err != nil {
				part.Close()
				form.Close()
				return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
			}
			if len(value) > maxFieldBytes {
				part.Close()
				form.Close()
				return nil, invalidField(name, "is too long")
			}
			if name == imageField {
				form.locator = string(value)
			} else {
				form.params.Set(name, string(value))
			}
		}
		part.Close()
	}
	return form, nil
}

func (f *resizeForm) spool(r io.Reader, maxBytes int64) error {
	tmp, err := os.CreateTemp("", "upload-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	f.upload = tmp

	n, err := io.Copy(tmp, io.LimitReader(r, maxBytes+1))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSource, err)
	}
	if n > maxBytes {
		return fmt.Errorf("%w: upload exceeds %d bytes", models.ErrInvalidSource, maxBytes)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

// readURLEncoded splits the body itself since url.Values loses field order.
func readURLEncoded(body io.Reader) (*resizeForm, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	form := &resizeForm{}
	for _, pair := range strings.Split(string(raw), "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
		}
		if key == imageField {
			form.locator = value
			continue
		}
		form.params.Set(key, value)
	}
	return form, nil
}

func readJSON(body io.Reader) (*resizeForm, error) {
	var all models.Params
	if err := json.NewDecoder(body).Decode(&all); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	form := &resizeForm{}
	for _, p := range all.Entries() {
		if p.Key == imageField {
			s, ok := p.Value.(string)
			if !ok {
				return nil, invalidField(imageField, "must be a URL or path")
			}
			form.locator = s
			continue
		}
		form.params.Set(p.Key, p.Value)
	}
	return form, nil
}

// resizeRequest validates the form and builds the workflow request.
func (f *resizeForm) resizeRequest() (workflow.ResizeRequest, error) {
	src, err := f.source()
	if err != nil {
		return workflow.ResizeRequest{}, err
	}

	w := strings.TrimSpace(f.params.String("w"))
	if w == "" {
		return workflow.ResizeRequest{}, invalidField("w", "is required")
	}
	if !dimension.Valid(w) {
		return workflow.ResizeRequest{}, invalidField("w", "must be a positive number or percentage")
	}
	h := strings.TrimSpace(f.params.String("h"))
	if h != "" && !dimension.Valid(h) {
		return workflow.ResizeRequest{}, invalidField("h", "must be a positive number or percentage")
	}

	req := workflow.ResizeRequest{Source: src, Width: w, Height: h, Params: f.params}

	if raw := strings.TrimSpace(f.params.String("album_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return workflow.ResizeRequest{}, invalidField("album_id", "must be a positive integer")
		}
		req.AlbumID = &id
	}
	return req, nil
}

// pageFrom reads ?page=, falling back to the first page.
func pageFrom(c *gin.Context) models.Page {
	n, err := strconv.Atoi(c.Query("page"))
	if err != nil || n < 1 {
		n = 1
	}
	return models.Page{Number: n, Size: models.DefaultPageSize}
}
