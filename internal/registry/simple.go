package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/html"

	"github.com/frederic-klein/envex/internal/dist"
)

const (
	simpleJSONType = "application/vnd.pypi.simple.v1+json"
	acceptHeader   = simpleJSONType + ", application/vnd.pypi.simple.v1+html;q=0.2, text/html;q=0.01"
	maxPageSize    = 32 * 1024 * 1024
)

// ErrNotFound is returned when an index does not know a project.
var ErrNotFound = errors.New("project not found")

// ProjectFile is one file advertised on a project page.
type ProjectFile struct {
	Filename string
	URL      string
}

// simpleClient reads project pages of PEP 503 (HTML) and PEP 691 (JSON)
// indexes, caching them per index and project.
type simpleClient struct {
	client *http.Client
	cache  *lru.Cache[string, []ProjectFile]
}

func newSimpleClient(client *http.Client, cacheSize int) (*simpleClient, error) {
	if client == nil {
		client = &http.Client{}
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, []ProjectFile](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating page cache: %w", err)
	}
	return &simpleClient{client: client, cache: cache}, nil
}

// ProjectURL returns the project page URL of name on indexURL.
func ProjectURL(indexURL, name string) string {
	return strings.TrimSuffix(indexURL, "/") + "/" + url.PathEscape(dist.CanonicalName(name)) + "/"
}

// Files lists the files of project name on indexURL. A missing project
// yields ErrNotFound; not-found results are cached like pages.
func (c *simpleClient) Files(ctx context.Context, indexURL, name string) ([]ProjectFile, error) {
	pageURL := ProjectURL(indexURL, name)
	if files, ok := c.cache.Get(pageURL); ok {
		if files == nil {
			return nil, ErrNotFound
		}
		return files, nil
	}

	files, err := c.fetch(ctx, pageURL)
	if errors.Is(err, ErrNotFound) {
		c.cache.Add(pageURL, nil)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []ProjectFile{}
	}
	c.cache.Add(pageURL, files)
	return files, nil
}

func (c *simpleClient) fetch(ctx context.Context, pageURL string) ([]ProjectFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying %s: HTTP %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", pageURL, err)
	}

	base := resp.Request.URL
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == simpleJSONType || mediaType == "application/json" {
		return parseJSONPage(base, body)
	}
	return parseHTMLPage(base, body)
}

type jsonPage struct {
	Name  string `json:"name"`
	Files []struct {
		Filename string `json:"filename"`
		URL      string `json:"url"`
	} `json:"files"`
}

func parseJSONPage(base *url.URL, body []byte) ([]ProjectFile, error) {
	var page jsonPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parsing project page: %w", err)
	}
	files := make([]ProjectFile, 0, len(page.Files))
	for _, f := range page.Files {
		files = append(files, ProjectFile{Filename: f.Filename, URL: resolveRef(base, f.URL)})
	}
	return files, nil
}

// parseHTMLPage collects the anchors of a PEP 503 page. The anchor text is
// the file name.
func parseHTMLPage(base *url.URL, body []byte) ([]ProjectFile, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parsing project page: %w", err)
	}

	var files []ProjectFile
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attr(n, "href")
			name := strings.TrimSpace(textOf(n))
			if name == "" {
				name = filenameFromHref(href)
			}
			if name != "" {
				files = append(files, ProjectFile{Filename: name, URL: resolveRef(base, href)})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return files, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		} else {
			b.WriteString(textOf(c))
		}
	}
	return b.String()
}

func filenameFromHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	p := u.Path
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

func resolveRef(base *url.URL, ref string) string {
	if base == nil || ref == "" {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
