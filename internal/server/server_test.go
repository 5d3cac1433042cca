package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagemanip/internal/events"
	"imagemanip/internal/models"
	"imagemanip/internal/placer"
	"imagemanip/internal/testutil"
	"imagemanip/internal/workflow"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	srv  *Server
	repo *testutil.MemRepo
	root string
}

func newTestEnv(t *testing.T, health HealthFunc) *testEnv {
	t.Helper()

	cfg := models.DefaultConfig()
	cfg.JWTSecret = testSecret
	cfg.PublicURL = "http://img.test/files/"
	cfg.Storage.Root = t.TempDir()
	cfg.Source.MaxBytes = 1 << 20

	local, err := placer.NewLocal(cfg.Storage.Root, placer.SourceOptionsFrom(cfg.Source))
	require.NoError(t, err)
	repo := testutil.NewMemRepo()
	svc := workflow.New(repo, local, events.NewInlineCleaner(local), cfg.Workflow)

	return &testEnv{srv: NewServer(cfg, svc, health), repo: repo, root: cfg.Storage.Root}
}

func token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := IssueToken([]byte(testSecret), userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, userID int64, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

type field struct{ name, value string }

// uploadRequest builds a multipart resize request; fields keep their order.
func uploadRequest(t *testing.T, filename string, data []byte, fields ...field) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		fw, err := mw.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for _, f := range fields {
		require.NoError(t, mw.WriteField(f.name, f.value))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images/resize", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeResource(t *testing.T, w *httptest.ResponseRecorder) manipulationResource {
	t.Helper()
	var res manipulationResource
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return res
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(t, 0, httptest.NewRequest(http.MethodGet, "/api/v1/images", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = e.do(t, 0, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := IssueToken([]byte("other-secret"), 1, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/images", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	w = e.do(t, 0, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExpiredToken(t *testing.T) {
	e := newTestEnv(t, nil)
	tok, err := IssueToken([]byte(testSecret), 1, -time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, 0, req).Code)
}

func TestResizeUpload(t *testing.T) {
	e := newTestEnv(t, nil)

	req := uploadRequest(t, "photo.png", testutil.PNG(800, 600),
		field{"w", "400"}, field{"h", "300"}, field{"note", "x"})
	w := e.do(t, 7, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Contains(t, w.Body.String(), `"data":{"w":"400","h":"300","note":"x"}`)

	res := decodeResource(t, w)
	assert.Equal(t, "resize", res.Type)
	assert.Equal(t, "photo.png", res.Name)
	assert.Equal(t, int64(7), res.UserID)
	assert.Nil(t, res.AlbumID)
	assert.True(t, strings.HasPrefix(res.Path, "http://img.test/files/images/"), res.Path)
	assert.True(t, strings.HasSuffix(res.OutputPath, "/photo-resized.png"), res.OutputPath)

	key := strings.TrimPrefix(res.OutputPath, "http://img.test/files/")
	f, err := os.Open(filepath.Join(e.root, filepath.FromSlash(key)))
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Width)
	assert.Equal(t, 300, cfg.Height)

	static := httptest.NewRequest(http.MethodGet, "/files/"+key, nil)
	sw := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(sw, static)
	assert.Equal(t, http.StatusOK, sw.Code)
}

func TestResizeFromURLWithJSONBody(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(testutil.PNG(1000, 1000))
	}))
	defer origin.Close()

	e := newTestEnv(t, nil)
	body := fmt.Sprintf(`{"image":%q,"w":"50%%","h":"0"}`, origin.URL+"/pics/cat.png")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images/resize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := e.do(t, 3, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"data":{"w":"50%","h":"0"}`)

	res := decodeResource(t, w)
	assert.Equal(t, "cat.png", res.Name)
	assert.True(t, strings.HasSuffix(res.OutputPath, "/cat-resized.png"))
}

func TestResizeURLEncodedKeepsOrder(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(testutil.JPEG(200, 100))
	}))
	defer origin.Close()

	e := newTestEnv(t, nil)
	form := "z=1&image=" + origin.URL + "/a.jpg&w=20&a=2"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images/resize", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := e.do(t, 3, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"data":{"z":"1","w":"20","a":"2"}`)
}

func TestResizeValidation(t *testing.T) {
	png := testutil.PNG(10, 10)
	tests := []struct {
		name      string
		req       func(t *testing.T) *http.Request
		wantField string
	}{
		{
			name:      "missing image",
			req:       func(t *testing.T) *http.Request { return uploadRequest(t, "", nil, field{"w", "10"}) },
			wantField: "image",
		},
		{
			name:      "missing width",
			req:       func(t *testing.T) *http.Request { return uploadRequest(t, "a.png", png, field{"h", "10"}) },
			wantField: "w",
		},
		{
			name:      "bad width",
			req:       func(t *testing.T) *http.Request { return uploadRequest(t, "a.png", png, field{"w", "abc"}) },
			wantField: "w",
		},
		{
			name: "bad height",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "a.png", png, field{"w", "10"}, field{"h", "-5"})
			},
			wantField: "h",
		},
		{
			name: "bad album",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "a.png", png, field{"w", "10"}, field{"album_id", "x"})
			},
			wantField: "album_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, nil)
			w := e.do(t, 1, tt.req(t))
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, models.ErrInvalidInput.Error(), body.Error)
			assert.True(t, strings.HasPrefix(body.Message, tt.wantField+":"), body.Message)
			assert.Zero(t, e.repo.Count())
		})
	}
}

func TestResizeZeroWidthIsRejected(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, 1, uploadRequest(t, "a.png", testutil.PNG(10, 10), field{"w", "0"}))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, models.ErrInvalidDimensionToken.Error(), decodeError(t, w).Error)
}

func TestResizeNotAnImage(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, 1, uploadRequest(t, "a.png", []byte("plain text"), field{"w", "10"}))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, models.ErrUnsupportedImage.Error(), decodeError(t, w).Error)

	entries, err := os.ReadDir(filepath.Join(e.root, "images"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResizeUploadTooLarge(t *testing.T) {
	e := newTestEnv(t, nil)
	big := make([]byte, (1<<20)+1)
	w := e.do(t, 1, uploadRequest(t, "a.png", big, field{"w", "10"}))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, models.ErrInvalidSource.Error(), decodeError(t, w).Error)
}

func createAlbum(t *testing.T, e *testEnv, userID int64, name string) albumResource {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/albums", strings.NewReader(`{"name":"`+name+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := e.do(t, userID, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var a albumResource
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	return a
}

func TestAlbums(t *testing.T) {
	e := newTestEnv(t, nil)
	mine := createAlbum(t, e, 1, "Holidays")
	theirs := createAlbum(t, e, 2, "Other")
	assert.Equal(t, "Holidays", mine.Name)

	w := e.do(t, 1, httptest.NewRequest(http.MethodGet, "/api/v1/albums", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []albumResource `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, mine.ID, list.Data[0].ID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/albums", strings.NewReader(`{"name":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, e.do(t, 1, req).Code)

	png := testutil.PNG(40, 40)
	w = e.do(t, 1, uploadRequest(t, "a.png", png, field{"w", "10"}, field{"album_id", fmt.Sprint(theirs.ID)}))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, 1, uploadRequest(t, "a.png", png, field{"w", "10"}, field{"album_id", "999"}))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = e.do(t, 1, uploadRequest(t, "a.png", png, field{"w", "10"}, field{"album_id", fmt.Sprint(mine.ID)}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decodeResource(t, w)
	require.NotNil(t, res.AlbumID)
	assert.Equal(t, mine.ID, *res.AlbumID)

	w = e.do(t, 1, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/albums/%d/images", mine.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var coll manipulationCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &coll))
	require.Len(t, coll.Data, 1)
	assert.Equal(t, res.ID, coll.Data[0].ID)

	w = e.do(t, 2, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/albums/%d/images", mine.ID), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, 1, httptest.NewRequest(http.MethodGet, "/api/v1/albums/abc/images", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListImagesPaginates(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	var newest uuid.UUID
	for i := 0; i < 17; i++ {
		m := &models.Manipulation{
			ID:         uuid.New(),
			Type:       models.TypeResize,
			Params:     models.NewParams(models.Param{Key: "w", Value: "10"}),
			Name:       "a.png",
			Path:       "images/x/a.png",
			OutputPath: "images/x/a-resized.png",
			UserID:     1,
		}
		require.NoError(t, e.repo.CreateManipulation(ctx, m))
		newest = m.ID
	}
	require.NoError(t, e.repo.CreateManipulation(ctx, &models.Manipulation{ID: uuid.New(), Type: models.TypeResize, UserID: 2}))

	w := e.do(t, 1, httptest.NewRequest(http.MethodGet, "/api/v1/images", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var first manipulationCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Len(t, first.Data, 15)
	assert.Equal(t, newest, first.Data[0].ID)
	assert.Equal(t, pageMeta{CurrentPage: 1, PerPage: 15, Total: 17, LastPage: 2}, first.Meta)

	w = e.do(t, 1, httptest.NewRequest(http.MethodGet, "/api/v1/images?page=2", nil))
	var second manipulationCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Len(t, second.Data, 2)
	assert.Equal(t, 2, second.Meta.CurrentPage)

	w = e.do(t, 1, httptest.NewRequest(http.MethodGet, "/api/v1/images?page=junk", nil))
	var junk manipulationCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &junk))
	assert.Equal(t, 1, junk.Meta.CurrentPage)

	w = e.do(t, 3, httptest.NewRequest(http.MethodGet, "/api/v1/images", nil))
	assert.JSONEq(t, `{"data":[],"meta":{"current_page":1,"per_page":15,"total":0,"last_page":1}}`, w.Body.String())
}

func TestGetAndDeleteImage(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, 1, uploadRequest(t, "a.png", testutil.PNG(40, 40), field{"w", "10"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decodeResource(t, w)
	url := "/api/v1/images/" + res.ID.String()

	w = e.do(t, 1, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, res.ID, decodeResource(t, w).ID)

	assert.Equal(t, http.StatusForbidden, e.do(t, 2, httptest.NewRequest(http.MethodGet, url, nil)).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, 2, httptest.NewRequest(http.MethodDelete, url, nil)).Code)
	assert.Equal(t, 1, e.repo.Count())

	assert.Equal(t, http.StatusNotFound, e.do(t, 1, httptest.NewRequest(http.MethodGet, "/api/v1/images/"+uuid.NewString(), nil)).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, 1, httptest.NewRequest(http.MethodGet, "/api/v1/images/nope", nil)).Code)

	w = e.do(t, 1, httptest.NewRequest(http.MethodDelete, url, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, e.repo.Count())

	entries, err := os.ReadDir(filepath.Join(e.root, "images"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Equal(t, http.StatusNotFound, e.do(t, 1, httptest.NewRequest(http.MethodDelete, url, nil)).Code)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, 0, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	e = newTestEnv(t, func(context.Context) error { return errors.New("db down") })
	w = e.do(t, 0, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", models.ErrUnauthorized), http.StatusForbidden},
		{fmt.Errorf("x: %w", models.ErrNotFound), http.StatusNotFound},
		{invalidField("w", "is required"), http.StatusUnprocessableEntity},
		{models.ErrInvalidDimensionToken, http.StatusUnprocessableEntity},
		{models.ErrInvalidSource, http.StatusUnprocessableEntity},
		{models.ErrUnsupportedImage, http.StatusUnprocessableEntity},
		{models.ErrStorageUnavailable, http.StatusInternalServerError},
		{models.ErrResizeFailed, http.StatusInternalServerError},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestServerErrorsHideDetails(t *testing.T) {
	e := newTestEnv(t, nil)
	e.repo.CreateErr = fmt.Errorf("connection refused: %w", models.ErrStorageUnavailable)

	w := e.do(t, 1, uploadRequest(t, "a.png", testutil.PNG(20, 20), field{"w", "10"}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, models.ErrStorageUnavailable.Error(), body.Error)
	assert.Empty(t, body.Message)
}
