// Package visualdiff implements the Visual Diff component (spec §4.8):
// detecting frontend work, extracting candidate URLs from the plan,
// capturing before/after screenshots, and publishing them to a media
// branch.
package visualdiff

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BryanOwens012/dogwalker/internal/browser"
)

var frontendKeywords = []string{
	"page", "component", "ui", "frontend", "css", "style", "button", "form",
	"layout", "screen", "view", "render", "html",
}

var frontendExtensions = []string{
	".tsx", ".jsx", ".vue", ".svelte", ".css", ".scss", ".html",
}

// IsFrontend reports whether plan or any changed file suggests UI work
// worth a visual diff (spec §4.8: "keyword/extension heuristics").
func IsFrontend(plan string, files []string) bool {
	lower := strings.ToLower(plan)
	for _, kw := range frontendKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, f := range files {
		ext := filepath.Ext(f)
		for _, want := range frontendExtensions {
			if ext == want {
				return true
			}
		}
	}
	return false
}

var (
	quotedPathRe = regexp.MustCompile(`"(/[a-zA-Z0-9/_-]*)"`)
	pageNameRe   = regexp.MustCompile(`(?i)\b([a-zA-Z0-9_-]+)\s+page\b`)
)

// ExtractURLs scans plan for quoted path-like tokens and "X page" phrases,
// dedupes, ensures "/" sorts first, and caps at 5 (spec §4.8).
func ExtractURLs(plan string) []string {
	seen := map[string]bool{}
	var urls []string
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	for _, m := range quotedPathRe.FindAllStringSubmatch(plan, -1) {
		add(m[1])
	}
	for _, m := range pageNameRe.FindAllStringSubmatch(plan, -1) {
		name := strings.ToLower(m[1])
		if name == "home" || name == "landing" || name == "index" {
			add("/")
			continue
		}
		add("/" + name)
	}

	sort.Slice(urls, func(i, j int) bool {
		if urls[i] == "/" {
			return true
		}
		if urls[j] == "/" {
			return false
		}
		return urls[i] < urls[j]
	})

	if !seen["/"] {
		urls = append([]string{"/"}, urls...)
	}
	if len(urls) > 5 {
		urls = urls[:5]
	}
	return urls
}

// Shot is one captured-and-published screenshot.
type Shot struct {
	URL       string
	LocalPath string
	MediaURL  string
}

// MediaStore uploads a screenshot to the code-forge's media branch (spec
// §9's redesign note: an interface, not a hardcoded GitHub raw-content
// assumption, so the forge adapter stays swappable).
type MediaStore interface {
	Upload(ctx context.Context, repoPath string, data []byte) (url string, err error)
}

// Capture implements spec §4.8's four-step capture sequence for one
// prefix/URL set against a server already listening at baseURL.
func Capture(ctx context.Context, driver browser.Driver, media MediaStore, baseURL, prefix string, urls []string) ([]Shot, error) {
	var shots []Shot
	for _, path := range urls {
		full := strings.TrimRight(baseURL, "/") + path

		warmUpCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if req, err := http.NewRequestWithContext(warmUpCtx, http.MethodGet, full, nil); err == nil {
			if resp, err := http.DefaultClient.Do(req); err == nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}
		cancel()

		if !probeReachable(full) {
			continue // skip 4xx/5xx (spec §4.8.2)
		}

		data, err := driver.Screenshot(ctx, full, 1920, 1080, 2*time.Second)
		if err != nil {
			return shots, fmt.Errorf("screenshotting %s: %w", full, err)
		}

		slug := urlSlug(path)
		repoPath := fmt.Sprintf(".screenshots/%s-%s.png", prefix, slug)
		mediaURL, err := media.Upload(ctx, repoPath, data)
		if err != nil {
			return shots, fmt.Errorf("uploading screenshot for %s: %w", full, err)
		}
		shots = append(shots, Shot{URL: path, LocalPath: repoPath, MediaURL: mediaURL})
	}
	return shots, nil
}

// probeReachable validates a URL with HEAD, falling back to GET on 405
// (spec §4.8.2), skipping anything that answers 4xx/5xx.
func probeReachable(url string) bool {
	resp, err := http.Head(url)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusMethodNotAllowed {
			resp2, err2 := http.Get(url)
			if err2 != nil {
				return false
			}
			defer resp2.Body.Close()
			return resp2.StatusCode < 400
		}
		return resp.StatusCode < 400
	}
	return false
}

var nonSlug = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func urlSlug(path string) string {
	s := nonSlug.ReplaceAllString(path, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "root"
	}
	return strings.ToLower(s)
}
