package rewrite

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uploadTree(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range names {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
	}
	return root
}

func TestResolver_WebPFor(t *testing.T) {
	root := uploadTree(t, "photo.jpg", "photo.webp", "2024/01/Shot.PNG", "2024/01/Shot.webp", "plain.jpg", "my pic.jpg", "my pic.webp")

	tests := []struct {
		name    string
		baseURL string
		url     string
		want    string
		ok      bool
	}{
		{"root relative", "/up", "/up/photo.jpg", "/up/photo.webp", true},
		{"query stripped", "/up", "/up/photo.jpg?ver=3", "/up/photo.webp", true},
		{"nested upper case", "/up", "/up/2024/01/Shot.PNG", "/up/2024/01/Shot.webp", true},
		{"no sibling", "/up", "/up/plain.jpg", "", false},
		{"not eligible", "/up", "/up/photo.gif", "", false},
		{"outside base", "/up", "/other/photo.jpg", "", false},
		{"dot dot escape", "/up", "/up/../photo.jpg", "", false},
		{"escaped space", "/up", "/up/my%20pic.jpg", "/up/my%20pic.webp", true},
		{"absolute base and url", "https://example.com/up", "https://example.com/up/photo.jpg", "https://example.com/up/photo.webp", true},
		{"absolute base relative url", "https://example.com/up", "/up/photo.jpg", "/up/photo.webp", true},
		{"foreign host", "https://example.com/up", "https://cdn.test/up/photo.jpg", "", false},
		{"relative url", "/up", "photo.jpg", "", false},
		{"relative base absolute url", "/up", "https://cdn.test/up/photo.jpg", "", false},
		{"relative base protocol relative url", "/up", "//cdn.test/up/photo.jpg", "", false},
		{"host case insensitive", "https://example.com/up", "https://EXAMPLE.com/up/photo.jpg", "https://EXAMPLE.com/up/photo.webp", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NewResolver(root, tt.baseURL).WebPFor(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImageSrc(t *testing.T) {
	root := uploadTree(t, "photo.jpg", "photo.webp", "plain.jpg")
	r := NewResolver(root, "/up")

	got := ImageSrc(r, ImageSource{URL: "/up/photo.jpg", Width: 300, Height: 200, Intermediate: true})
	assert.Equal(t, ImageSource{URL: "/up/photo.webp", Width: 300, Height: 200, Intermediate: true}, got)

	unchanged := ImageSource{URL: "/up/plain.jpg", Width: 10}
	assert.Equal(t, unchanged, ImageSrc(r, unchanged))
}

func TestContent_WrapsConvertedImages(t *testing.T) {
	root := uploadTree(t, "photo.jpg", "photo.webp", "plain.png")
	r := NewResolver(root, "/up")

	in := `<p>Intro</p><img src="/up/photo.jpg" alt="x"><p><IMG SRC='/up/plain.png'></p>`
	out := Content(r, in)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	require.NoError(t, err)

	pictures := doc.Find("picture")
	require.Equal(t, 1, pictures.Length())

	source := pictures.Find("source")
	require.Equal(t, 1, source.Length())
	assert.Equal(t, "/up/photo.webp", source.AttrOr("srcset", ""))
	assert.Equal(t, "image/webp", source.AttrOr("type", ""))
	assert.Equal(t, "/up/photo.jpg", pictures.Find("img").AttrOr("src", ""))
	assert.Equal(t, "x", pictures.Find("img").AttrOr("alt", ""))

	assert.Contains(t, out, `<img src="/up/photo.jpg" alt="x">`)
	assert.Contains(t, out, `<IMG SRC='/up/plain.png'>`, "unconverted tag kept byte for byte")
	assert.Equal(t, 1, doc.Find("p img").Length())
}

func TestContent_ExactWrapperMarkup(t *testing.T) {
	root := uploadTree(t, "photo.jpg", "photo.webp")
	out := Content(NewResolver(root, "/up"), `<img src="/up/photo.jpg" alt="x">`)
	assert.Equal(t,
		`<picture><source srcset="/up/photo.webp" type="image/webp"><img src="/up/photo.jpg" alt="x"></picture>`,
		out)
}

func TestContent_EscapesSrcset(t *testing.T) {
	root := uploadTree(t, `a"b.jpg`, `a"b.webp`)
	out := Content(NewResolver(root, "/up"), `<img src='/up/a"b.jpg'>`)
	assert.Contains(t, out, `srcset="/up/a&#34;b.webp"`)
}

func TestContent_NoChanges(t *testing.T) {
	root := uploadTree(t, "photo.jpg", "photo.webp")
	r := NewResolver(root, "/up")

	for _, in := range []string{
		"",
		"<p>no images</p>",
		`<img src="/up/missing.jpg">`,
		`<img alt="no src">`,
		`<img src="/up/photo.gif">`,
		`<picture><source srcset="/up/photo.webp"><img src="/up/photo.jpg"></picture>`,
	} {
		assert.Equal(t, in, Content(r, in), in)
	}
}

func TestContent_KeepsTruncatedTail(t *testing.T) {
	root := uploadTree(t, "photo.jpg", "photo.webp")
	r := NewResolver(root, "/up")
	wrapped := `<picture><source srcset="/up/photo.webp" type="image/webp"><img src="/up/photo.jpg"></picture>`

	for _, tail := range []string{
		"<p>tail <b",
		`<p>tail <a href="/x`,
		"<p>tail <!-- open",
		"<p>tail <",
	} {
		assert.Equal(t, wrapped+tail, Content(r, `<img src="/up/photo.jpg">`+tail), tail)
	}
}

func TestContent_Idempotent(t *testing.T) {
	root := uploadTree(t, "photo.jpg", "photo.webp")
	r := NewResolver(root, "/up")

	once := Content(r, `<img src="/up/photo.jpg">`)
	assert.Equal(t, once, Content(r, once))
}

func TestNegotiate(t *testing.T) {
	root := uploadTree(t, "photo.jpg", "photo.webp", "plain.jpg", "doc.txt")
	handler := Negotiate(root, http.FileServer(http.Dir(root)))

	tests := []struct {
		name     string
		path     string
		accept   string
		wantType string
		wantBody string
		wantVary bool
	}{
		{"webp client gets sibling", "/photo.jpg", "image/avif,image/webp,*/*", "image/webp", "photo.webp", true},
		{"legacy client gets original", "/photo.jpg", "image/png,*/*", "image/jpeg", "photo.jpg", true},
		{"q zero refuses webp", "/photo.jpg", "image/webp;q=0", "image/jpeg", "photo.jpg", true},
		{"missing sibling", "/plain.jpg", "image/webp", "image/jpeg", "plain.jpg", true},
		{"not an image", "/doc.txt", "image/webp", "text/plain; charset=utf-8", "doc.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Accept", tt.accept)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantType, rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, tt.wantVary, rec.Header().Get("Vary") == "Accept")
		})
	}
}
