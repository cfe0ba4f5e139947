// Package fetch downloads a web page and reduces it to readable plain text.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBodyBytes     = 2 << 20
	// DefaultMaxChars bounds the text handed to highlight extraction.
	DefaultMaxChars = 32 * 1024
)

// Page is the readable part of a fetched document.
type Page struct {
	Title string
	Text  string
}

type Fetcher struct {
	client    *http.Client
	userAgent string
	maxChars  int
	policy    *bluemonday.Policy
}

type Option func(*Fetcher)

func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

func WithMaxChars(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxChars = n
		}
	}
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: defaultUserAgent,
		maxChars:  DefaultMaxChars,
		policy:    bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var (
	reSpaces     = regexp.MustCompile(`[ \t\r\f\v]+`)
	reBlankLines = regexp.MustCompile(`\n{3,}`)
)

// Fetch downloads rawURL and extracts its main article text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return Page{}, errors.New("fetch url is empty")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Page{}, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Page{}, fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimmed, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch http %d", resp.StatusCode)
	}
	body := io.LimitReader(resp.Body, maxBodyBytes)

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return Page{}, err
		}
		return Page{Text: f.clip(normalize(string(raw)))}, nil
	}

	article, err := readability.FromReader(body, parsed)
	if err != nil {
		return Page{}, fmt.Errorf("failed to parse article: %w", err)
	}
	text := html.UnescapeString(f.policy.Sanitize(article.TextContent))
	return Page{
		Title: strings.TrimSpace(article.Title),
		Text:  f.clip(normalize(text)),
	}, nil
}

func (f *Fetcher) clip(text string) string {
	if len(text) <= f.maxChars {
		return text
	}
	cut := f.maxChars
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func normalize(text string) string {
	text = reSpaces.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, strings.TrimSpace(line))
	}
	text = strings.Join(out, "\n")
	text = reBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
