package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MimeLyc/webp-autogen/internal/config"
	"github.com/MimeLyc/webp-autogen/internal/jobs"
	"github.com/MimeLyc/webp-autogen/internal/library"
	"github.com/MimeLyc/webp-autogen/internal/service"
	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEncoder struct{}

func (stubEncoder) Name() string { return "stub" }

func (stubEncoder) Encode(_ context.Context, _, dst string, _ int) error {
	return os.WriteFile(dst, []byte("webp"), 0o644)
}

func newUploads(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range names {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))
	}
	return root
}

func newTestService(root string) *service.Service {
	cfg := config.Default()
	cfg.Uploads.Dir = root
	cfg.Uploads.BaseURL = "/uploads"
	cfg.Convert.CronExpr = ""
	return service.New(cfg, config.RuntimeSettings{Quality: 80}, stubEncoder{})
}

func newSettingsStore(t *testing.T) *config.RuntimeSettingsStore {
	t.Helper()
	store, err := config.NewRuntimeSettingsStore(filepath.Join(t.TempDir(), "settings.json"), config.RuntimeSettings{Quality: 80})
	require.NoError(t, err)
	return store
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_AjaxConvertedCount(t *testing.T) {
	root := newUploads(t, "a.jpg", "a.webp", "b.png", "notes.txt")
	srv := NewServer(newTestService(root))

	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/ajax?action="+ActionConvertedCount, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"converted":1,"total":2}}`, rec.Body.String())
}

func TestServer_AjaxConvertBatch(t *testing.T) {
	root := newUploads(t, "a.jpg", "a.webp", "b.png", "notes.txt")
	srv := NewServer(newTestService(root))

	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/ajax?action="+ActionConvertBatch, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"converted_now":1,"skipped_now":1,"failed_now":0,"total":2,"converted":2,"remaining":0}`, rec.Body.String())
	assert.FileExists(t, filepath.Join(root, "b.webp"))

	rec = serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/ajax?action="+ActionConvertBatch, nil))
	assert.JSONEq(t, `{"converted_now":0,"skipped_now":2,"failed_now":0,"total":2,"converted":2,"remaining":0}`, rec.Body.String())
}

func TestServer_AjaxActionFromPostForm(t *testing.T) {
	srv := NewServer(newTestService(newUploads(t)))

	req := httptest.NewRequest(http.MethodPost, "/ajax", strings.NewReader("action="+ActionConvertedCount))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(srv.Handler(), req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"converted":0,"total":0}}`, rec.Body.String())
}

func TestServer_AjaxUnknownAction(t *testing.T) {
	srv := NewServer(newTestService(newUploads(t)))

	for _, target := range []string{"/ajax", "/ajax?action=other"} {
		rec := serve(srv.Handler(), httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.JSONEq(t, `{"success":false,"data":"0"}`, rec.Body.String(), target)
	}
}

func TestServer_SettingsRejectsOutOfRangeQuality(t *testing.T) {
	svc := newTestService(newUploads(t))
	store := newSettingsStore(t)
	srv := NewServer(svc, WithRuntimeSettingsStore(store))

	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"webp_autogen_quality":150}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 80, store.Quality())
	assert.Equal(t, 80, svc.Quality())

	rec = serve(srv.Handler(), httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"webp_autogen_quality":60}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"webp_autogen_quality":60}`, rec.Body.String())
	assert.Equal(t, 60, store.Quality())
	assert.Equal(t, 60, svc.Quality())

	rec = serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	assert.JSONEq(t, `{"webp_autogen_quality":60}`, rec.Body.String())
}

func TestServer_SettingsInvalidBody(t *testing.T) {
	srv := NewServer(newTestService(newUploads(t)), WithRuntimeSettingsStore(newSettingsStore(t)))

	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"webp_autogen_quality":"high"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SettingsRequiresQuality(t *testing.T) {
	svc := newTestService(newUploads(t))
	store := newSettingsStore(t)
	srv := NewServer(svc, WithRuntimeSettingsStore(store))

	for _, body := range []string{`{}`, `{"quality":10}`, `{"webp_autogen_quality":null}`} {
		rec := serve(srv.Handler(), httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, 80, store.Quality())
	assert.Equal(t, 80, svc.Quality())

	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"webp_autogen_quality":0}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, store.Quality())
}

type brokenSettingsStore struct{}

func (brokenSettingsStore) GetRuntimeSettings() (config.RuntimeSettings, error) {
	return config.RuntimeSettings{Quality: 80}, nil
}

func (brokenSettingsStore) UpdateRuntimeSettings(config.RuntimeSettings) (config.RuntimeSettings, error) {
	return config.RuntimeSettings{}, errors.New("read-only file system")
}

func TestServer_AdminQualitySaveFailure(t *testing.T) {
	svc := newTestService(newUploads(t))
	srv := NewServer(svc, WithRuntimeSettingsStore(brokenSettingsStore{}))

	doc := parsePage(t, serve(srv.Handler(), postForm("/admin", url.Values{config.QualityOptionKey: {"60"}})))
	assert.Equal(t, "Settings could not be saved.", strings.TrimSpace(doc.Find(".notice-error").Text()))
	assert.Equal(t, 80, svc.Quality())

	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"webp_autogen_quality":60}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func parsePage(t *testing.T, rec *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	return doc
}

func TestServer_AdminQualityForm(t *testing.T) {
	svc := newTestService(newUploads(t))
	store := newSettingsStore(t)
	srv := NewServer(svc, WithRuntimeSettingsStore(store))

	doc := parsePage(t, serve(srv.Handler(), postForm("/admin", url.Values{config.QualityOptionKey: {"150"}})))
	assert.Equal(t, 1, doc.Find(".notice-error").Length())
	assert.Contains(t, doc.Find(".notice-error").Text(), "Invalid quality value")
	val, _ := doc.Find("#webp_autogen_quality").Attr("value")
	assert.Equal(t, "80", val)
	assert.Equal(t, 80, store.Quality())

	doc = parsePage(t, serve(srv.Handler(), postForm("/admin", url.Values{config.QualityOptionKey: {"abc"}})))
	assert.Equal(t, 1, doc.Find(".notice-error").Length())
	assert.Equal(t, 80, store.Quality())

	doc = parsePage(t, serve(srv.Handler(), postForm("/admin", url.Values{config.QualityOptionKey: {"60"}})))
	assert.Equal(t, "Settings saved.", strings.TrimSpace(doc.Find(".notice-success").Text()))
	val, _ = doc.Find("#webp_autogen_quality").Attr("value")
	assert.Equal(t, "60", val)
	assert.Equal(t, 60, store.Quality())
	assert.Equal(t, 60, svc.Quality())
}

func TestServer_AdminPageStatus(t *testing.T) {
	root := newUploads(t, "a.jpg", "a.webp", "b.png")
	srv := NewServer(newTestService(root))

	doc := parsePage(t, serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/admin", nil)))

	assert.Equal(t, "1 / 2", doc.Find("#webp-status .converted").Text())
	assert.Equal(t, "1", doc.Find("#webp-status .remaining").Text())
	assert.Equal(t, "Start Convert Images (200)", doc.Find("#webp-batch button").Text())
	assert.Equal(t, "Start WebP Conversion of all images already uploaded", doc.Find("#webp-start").Text())
	assert.Contains(t, doc.Find("#webp-rewrite").Text(), "only installed on Apache")
	assert.Equal(t, 0, doc.Find(".notice").Length())

	src, ok := doc.Find(`script[src]`).Attr("src")
	require.True(t, ok)
	assert.Equal(t, "/static/webp-autogen.js", src)
	assert.Contains(t, doc.Find("script").First().Text(), `"Conversion in Progress"`)
}

func TestServer_AdminPageEmptyAndLocalized(t *testing.T) {
	srv := NewServer(newTestService(newUploads(t)))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.5")
	doc := parsePage(t, serve(srv.Handler(), req))

	lang, _ := doc.Find("html").Attr("lang")
	assert.Equal(t, "de", lang)
	assert.Equal(t, "Keine Bilder zum Konvertieren gefunden.", strings.TrimSpace(doc.Find("#webp-status").Text()))
	assert.Equal(t, "Bilder konvertieren (200)", doc.Find("#webp-batch button").Text())
}

func TestServer_AdminConvertButton(t *testing.T) {
	root := newUploads(t, "a.jpg", "a.webp", "b.png", "c.jpeg")
	srv := NewServer(newTestService(root))

	doc := parsePage(t, serve(srv.Handler(), postForm("/admin", url.Values{"convert": {""}})))

	assert.Equal(t, "Done: 2 WebP files created / 1 skipped.", strings.TrimSpace(doc.Find(".notice-success").Text()))
	assert.Equal(t, "3 / 3", doc.Find("#webp-status .converted").Text())
}

func TestServer_Script(t *testing.T) {
	srv := NewServer(newTestService(newUploads(t)))

	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/static/webp-autogen.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), "webp_autogen_convert_batch")
}

func TestServer_AttachmentsInline(t *testing.T) {
	root := newUploads(t, "2024/05/cat.jpg", "2024/05/cat-300x200.jpg")
	srv := NewServer(newTestService(root))

	body := `{"id":"12","attached_file":"` + filepath.ToSlash(filepath.Join(root, "2024", "05", "cat.jpg")) + `",` +
		`"metadata":{"file":"2024/05/cat.jpg","width":1200,"height":800,` +
		`"sizes":{"medium":{"file":"cat-300x200.jpg","width":300,"height":200,"mime-type":"image/jpeg"}}}}`
	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodPost, "/api/attachments", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"file":"2024/05/cat.jpg","width":1200,"height":800,`+
		`"sizes":{"medium":{"file":"cat-300x200.jpg","width":300,"height":200,"mime-type":"image/jpeg"}}}`, rec.Body.String())
	assert.FileExists(t, filepath.Join(root, "2024", "05", "cat.webp"))
	assert.FileExists(t, filepath.Join(root, "2024", "05", "cat-300x200.webp"))
}

func TestServer_AttachmentsRequiresFile(t *testing.T) {
	srv := NewServer(newTestService(newUploads(t)))

	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodPost, "/api/attachments", strings.NewReader(`{"metadata":{}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RenderAndImageSrc(t *testing.T) {
	root := newUploads(t, "a.jpg", "a.webp", "b.png")
	srv := NewServer(newTestService(root))

	html := `<p><img src="/uploads/a.jpg" alt="a"> <img src="/uploads/b.png"></p>`
	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodPost, "/api/render", strings.NewReader(html)))
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	require.Equal(t, 1, doc.Find("picture").Length())
	srcset, _ := doc.Find("picture source").Attr("srcset")
	assert.Equal(t, "/uploads/a.webp", srcset)
	assert.Equal(t, 2, doc.Find("img").Length())

	rec = serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/image-src?url=/uploads/a.jpg&width=640&height=480", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"/uploads/a.webp","width":640,"height":480,"intermediate":false}`, rec.Body.String())

	rec = serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/image-src?url=/uploads/b.png", nil))
	assert.JSONEq(t, `{"url":"/uploads/b.png","width":0,"height":0,"intermediate":false}`, rec.Body.String())

	rec = serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/image-src", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_UploadsNegotiation(t *testing.T) {
	root := newUploads(t, "a.jpg")
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.webp"), []byte("webp"), 0o644))
	srv := NewServer(newTestService(root))

	req := httptest.NewRequest(http.MethodGet, "/uploads/a.jpg", nil)
	req.Header.Set("Accept", "image/avif,image/webp,*/*")
	rec := serve(srv.Handler(), req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
	assert.Equal(t, "webp", rec.Body.String())
	assert.Equal(t, "Accept", rec.Header().Get("Vary"))

	rec = serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/uploads/a.jpg", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "img", rec.Body.String())
}

func TestServer_StatsJobsAndRuns(t *testing.T) {
	srv := NewServer(newTestService(newUploads(t, "a.jpg")))

	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.JSONEq(t, `{"total":1,"converted":0,"remaining":1}`, rec.Body.String())

	rec = serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/runs?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/jobs/stream", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_JobStreamProgressEvent(t *testing.T) {
	root := newUploads(t, "a.jpg", "a.webp", "b.png")
	cfg := config.Default()
	cfg.Uploads.Dir = root
	cfg.Uploads.BaseURL = "/uploads"
	cfg.Convert.CronExpr = ""
	queue := jobs.NewQueue(1, nil)
	svc := service.New(cfg, config.RuntimeSettings{Quality: 80}, stubEncoder{}, service.WithQueue(queue))
	srv := NewServer(svc)

	queue.Enqueue(jobs.EnqueueRequest{Source: "upload", Payload: jobs.Payload{AttachedFile: filepath.Join(root, "b.png")}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/jobs/stream", nil).WithContext(ctx))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "event: progress\ndata: "), body)
	data := strings.TrimSuffix(strings.TrimPrefix(body, "event: progress\ndata: "), "\n\n")

	var event uploadProgress
	require.NoError(t, json.Unmarshal([]byte(data), &event))
	assert.Equal(t, 2, event.Stats.Total)
	assert.Equal(t, 1, event.Stats.Converted)
	assert.Equal(t, 1, event.Pending)
	require.Len(t, event.Active, 1)
	assert.Equal(t, filepath.Join(root, "b.png"), event.Active[0].Payload.AttachedFile)
}

func TestSummarize(t *testing.T) {
	list := []*jobs.ConversionJob{
		{Status: jobs.StatusSuccess, Result: &jobs.Result{Converted: 3}},
		{Status: jobs.StatusFailed, Result: &jobs.Result{Converted: 1, Failed: 2}},
		{Status: jobs.StatusSkipped, Result: &jobs.Result{Skipped: 4}},
		{Status: jobs.StatusRunning},
	}
	got := summarize(library.Stats{Total: 9, Converted: 4, Remaining: 5}, list)

	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, 1, got.Skipped)
	assert.Equal(t, 1, got.Running)
	assert.Equal(t, 4, got.ConvertedFiles)
	assert.Equal(t, 2, got.FailedFiles)
	assert.Len(t, got.Active, 1)
	assert.Equal(t, 5, got.Stats.Remaining)
}

func TestServer_RequestID(t *testing.T) {
	srv := NewServer(newTestService(newUploads(t)))

	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = serve(srv.Handler(), req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}
