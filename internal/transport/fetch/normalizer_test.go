package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/noesis/internal/domain"
)

func TestExtractText(t *testing.T) {
	page := `<html><head><title>My Page</title><script>var x = 1;</script></head>
<body>
<nav>Home | About</nav>
<h1>Heading</h1>
<p>First paragraph.</p>
<p>Second paragraph.</p>
<style>.a { color: red }</style>
<footer>copyright</footer>
</body></html>`

	title, text := ExtractText(page)
	if title != "My Page" {
		t.Errorf("title = %q, want My Page", title)
	}
	if strings.Contains(text, "var x") {
		t.Errorf("script leaked into text: %q", text)
	}
	if strings.Contains(text, "Home | About") || strings.Contains(text, "copyright") {
		t.Errorf("nav/footer leaked into text: %q", text)
	}
	if !strings.Contains(text, "First paragraph.") || !strings.Contains(text, "Second paragraph.") {
		t.Errorf("paragraphs missing: %q", text)
	}
	if !strings.Contains(text, "First paragraph.\n\nSecond paragraph.") {
		t.Errorf("paragraphs not separated by blank line: %q", text)
	}
}

func TestExtractText_PlainTextFallthrough(t *testing.T) {
	// html.Parse accepts nearly anything; plain text comes back as body text.
	title, text := ExtractText("just some plain text")
	if title != "" {
		t.Errorf("title = %q, want empty", title)
	}
	if text != "just some plain text" {
		t.Errorf("text = %q", text)
	}
}

func TestNormalize_Article(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Article</title></head><body><p>Body text here.</p></body></html>`))
	}))
	defer srv.Close()

	n := New(5 * time.Second)
	got, err := n.Normalize(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.Title != "Article" {
		t.Errorf("title = %q", got.Title)
	}
	if !strings.Contains(got.Content, "Body text here.") {
		t.Errorf("content = %q", got.Content)
	}
	if got.Kind != domain.KindArticle {
		t.Errorf("kind = %q, want article", got.Kind)
	}
}

func TestNormalize_HTTPErrorWrapsContentUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	n := New(5 * time.Second)
	_, err := n.Normalize(context.Background(), srv.URL)
	if !errors.Is(err, domain.ErrContentUnavailable) {
		t.Fatalf("err = %v, want ErrContentUnavailable", err)
	}
}

func TestNormalize_InvalidURL(t *testing.T) {
	n := New(time.Second)
	for _, raw := range []string{"not a url", "ftp://example.com/x", ""} {
		if _, err := n.Normalize(context.Background(), raw); !errors.Is(err, domain.ErrContentUnavailable) {
			t.Errorf("Normalize(%q) err = %v, want ErrContentUnavailable", raw, err)
		}
	}
}

func TestNormalize_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Empty</title></head><body><script>x()</script></body></html>`))
	}))
	defer srv.Close()

	n := New(5 * time.Second)
	_, err := n.Normalize(context.Background(), srv.URL)
	if !errors.Is(err, domain.ErrContentUnavailable) {
		t.Fatalf("err = %v, want ErrContentUnavailable for textless page", err)
	}
}

func TestKindForHost(t *testing.T) {
	cases := map[string]domain.Kind{
		"youtube.com":     domain.KindVideo,
		"www.youtube.com": domain.KindVideo,
		"m.youtube.com":   domain.KindVideo,
		"youtu.be":        domain.KindVideo,
		"vimeo.com":       domain.KindVideo,
		"example.com":     domain.KindArticle,
		"notyoutube.com":  domain.KindArticle,
	}
	for host, want := range cases {
		if got := kindForHost(host); got != want {
			t.Errorf("kindForHost(%q) = %q, want %q", host, got, want)
		}
	}
}
