// Package fetch normalizes source content: given a URL it returns a title,
// plain text, and a content kind.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/kailas-cloud/noesis/internal/domain"
)

// maxBodyBytes bounds how much of a page is read.
const maxBodyBytes = 4 << 20

// videoHosts maps URL hosts to the video content kind.
var videoHosts = []string{"youtube.com", "youtu.be", "vimeo.com"}

// Normalizer fetches a URL and extracts its title and plain text.
type Normalizer struct {
	client *http.Client
}

// New creates a Normalizer.
func New(timeout time.Duration) *Normalizer {
	return &Normalizer{client: &http.Client{Timeout: timeout}}
}

// Normalize fetches rawURL and returns its normalized content. Failures wrap
// domain.ErrContentUnavailable: there is nothing to ingest.
func (n *Normalizer) Normalize(ctx context.Context, rawURL string) (domain.NormalizedContent, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.NormalizedContent{}, fmt.Errorf("invalid url %q: %w", rawURL, domain.ErrContentUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.NormalizedContent{}, fmt.Errorf("build request: %w", domain.ErrContentUnavailable)
	}
	req.Header.Set("User-Agent", "noesis/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return domain.NormalizedContent{}, fmt.Errorf("fetch %s: %v: %w", rawURL, err, domain.ErrContentUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.NormalizedContent{}, fmt.Errorf("fetch %s: status %d: %w",
			rawURL, resp.StatusCode, domain.ErrContentUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.NormalizedContent{}, fmt.Errorf("read body: %v: %w", err, domain.ErrContentUnavailable)
	}

	title, text := ExtractText(string(body))
	if strings.TrimSpace(text) == "" {
		return domain.NormalizedContent{}, fmt.Errorf("no text content at %s: %w", rawURL, domain.ErrContentUnavailable)
	}
	if title == "" {
		title = rawURL
	}

	return domain.NormalizedContent{
		Title:   title,
		Content: text,
		Kind:    kindForHost(u.Hostname()),
	}, nil
}

func kindForHost(host string) domain.Kind {
	host = strings.TrimPrefix(host, "www.")
	for _, v := range videoHosts {
		if host == v || strings.HasSuffix(host, "."+v) {
			return domain.KindVideo
		}
	}
	return domain.KindArticle
}

// skipElements never contribute visible text.
var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"head": false, // traversed for <title>
	"nav": true, "footer": true, "svg": true,
}

// ExtractText parses HTML and returns the page title and the visible text,
// paragraphs separated by blank lines.
func ExtractText(page string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		// Treat unparseable input as plain text.
		return "", strings.TrimSpace(page)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "title" && title == "" {
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
			if skipElements[n.Data] {
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlockElement(n.Data) {
			sb.WriteString("\n\n")
		}
	}
	walk(doc)

	return title, collapseBlankLines(sb.String())
}

func isBlockElement(name string) bool {
	switch name {
	case "p", "div", "section", "article", "li", "br",
		"h1", "h2", "h3", "h4", "h5", "h6", "tr", "blockquote", "pre":
		return true
	}
	return false
}

// collapseBlankLines trims each line and collapses runs of blank lines into
// single paragraph breaks.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
