package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type fakeIndex struct {
	server  *httptest.Server
	hits    map[string]*atomic.Int32
	accepts atomic.Value
}

func htmlPage(files ...string) string {
	page := "<!DOCTYPE html><html><body>\n"
	for _, f := range files {
		page += fmt.Sprintf("<a href=\"../../packages/%s#sha256=00\">%s</a><br/>\n", f, f)
	}
	return page + "</body></html>"
}

func jsonPageBody(name string, files ...string) string {
	body := `{"meta":{"api-version":"1.1"},"name":"` + name + `","files":[`
	for i, f := range files {
		if i > 0 {
			body += ","
		}
		body += `{"filename":"` + f + `","url":"https://files.example/` + f + `","hashes":{}}`
	}
	return body + "]}"
}

func newFakeIndex(t *testing.T) *fakeIndex {
	t.Helper()

	f := &fakeIndex{hits: map[string]*atomic.Int32{}}
	mux := http.NewServeMux()

	handle := func(path, contentType, body string, status int) {
		counter := &atomic.Int32{}
		f.hits[path] = counter
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			counter.Add(1)
			f.accepts.Store(r.Header.Get("Accept"))
			if contentType != "" {
				w.Header().Set("Content-Type", contentType)
			}
			w.WriteHeader(status)
			fmt.Fprint(w, body)
		})
	}

	handle("/primary/lzy-test-project/", simpleJSONType,
		jsonPageBody("lzy-test-project", "lzy_test_project-3.0.0-py3-none-any.whl", "lzy_test_project-3.0.0.tar.gz"), http.StatusOK)
	handle("/primary/torch/", "text/html",
		htmlPage("torch-2.1.1-cp311-cp311-manylinux1_x86_64.whl", "torch-2.1.1-cp311-none-macosx_11_0_arm64.whl"), http.StatusOK)
	handle("/primary/winonly/", simpleJSONType,
		jsonPageBody("winonly", "winonly-1.0-cp311-cp311-win_amd64.whl"), http.StatusOK)
	handle("/primary/deepspeed/", "text/html", htmlPage("deepspeed-0.12.3.tar.gz"), http.StatusOK)
	handle("/primary/", "", "not found", http.StatusNotFound)
	handle("/extra/torch/", "text/html",
		htmlPage("torch-2.1.1+cu118-cp311-cp311-linux_x86_64.whl"), http.StatusOK)
	handle("/extra/", "", "not found", http.StatusNotFound)
	handle("/broken/", "", "boom", http.StatusInternalServerError)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIndex) url(prefix string) string {
	return f.server.URL + "/" + prefix + "/"
}

func TestResolver_Resolve(t *testing.T) {
	idx := newFakeIndex(t)
	r, err := NewResolver(Options{
		IndexURL:       idx.url("primary"),
		ExtraIndexURLs: []string{idx.url("extra")},
		Target:         Target{Python: PythonVersion{3, 11, -1}},
	})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	tests := []struct {
		name    string
		version string
		want    Result
	}{
		{"lzy_test_project", "3.0.0", Result{Found: true, IndexURL: idx.url("primary"), Compatible: true}},
		{"LZY-Test.Project", "3.0", Result{Found: true, IndexURL: idx.url("primary"), Compatible: true}},
		{"torch", "2.1.1", Result{Found: true, IndexURL: idx.url("primary"), Compatible: true}},
		{"torch", "2.1.1+cu118", Result{Found: true, IndexURL: idx.url("extra"), Compatible: true}},
		{"winonly", "1.0", Result{Found: true, IndexURL: idx.url("primary"), Compatible: false}},
		{"deepspeed", "0.12.3", Result{Found: true, IndexURL: idx.url("primary"), Compatible: true}},
		{"torch", "9.9.9", Result{}},
		{"lzy_test_project", "", Result{}},
		{"lzy_test_project", "3.0.0-1", Result{}},
		{"missing", "1.0", Result{}},
	}

	for _, tt := range tests {
		t.Run(tt.name+"@"+tt.version, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.name, tt.version)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%s, %s) = %+v, want %+v", tt.name, tt.version, got, tt.want)
			}
		})
	}

	accept, _ := idx.accepts.Load().(string)
	if accept != acceptHeader {
		t.Errorf("Accept header = %q, want %q", accept, acceptHeader)
	}
}

func TestResolver_Resolve_SkipsFailingIndex(t *testing.T) {
	// Arrange
	idx := newFakeIndex(t)
	r, err := NewResolver(Options{
		IndexURL:       idx.url("broken"),
		ExtraIndexURLs: []string{"", idx.url("primary")},
	})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	// Act
	got, err := r.Resolve(context.Background(), "lzy-test-project", "3.0.0")

	// Assert
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !got.Found || got.IndexURL != idx.url("primary") {
		t.Errorf("Resolve() = %+v, want found on primary", got)
	}
	if n := idx.hits["/broken/"].Load(); n != 1 {
		t.Errorf("broken index hit %d times, want 1", n)
	}
	if extras := r.ExtraIndexURLs(); len(extras) != 1 {
		t.Errorf("ExtraIndexURLs() = %v, want empty entries dropped", extras)
	}
}

func TestResolver_Resolve_CachesPages(t *testing.T) {
	idx := newFakeIndex(t)
	r, err := NewResolver(Options{IndexURL: idx.url("primary"), CacheSize: 8})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), "lzy-test-project", "3.0.0"); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if _, err := r.Resolve(context.Background(), "missing", "1.0"); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}

	if n := idx.hits["/primary/lzy-test-project/"].Load(); n != 1 {
		t.Errorf("project page fetched %d times, want 1", n)
	}
	if n := idx.hits["/primary/"].Load(); n != 1 {
		t.Errorf("missing page fetched %d times, want 1", n)
	}
}

func TestResolver_Resolve_CancelledContext(t *testing.T) {
	idx := newFakeIndex(t)
	r, err := NewResolver(Options{IndexURL: idx.url("primary")})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Resolve(ctx, "torch", "2.1.1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve() error = %v, want context.Canceled", err)
	}
}

func TestNewResolver_Defaults(t *testing.T) {
	r, err := NewResolver(Options{})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	if r.IndexURL() != DefaultIndexURL {
		t.Errorf("IndexURL() = %q, want %q", r.IndexURL(), DefaultIndexURL)
	}
	if r.target.Platform != DefaultPlatform {
		t.Errorf("Platform = %q, want %q", r.target.Platform, DefaultPlatform)
	}
	if r.target.Python != DefaultPython {
		t.Errorf("Python = %v, want %v", r.target.Python, DefaultPython)
	}
}

func TestProjectURL(t *testing.T) {
	tests := []struct {
		index, name, want string
	}{
		{"https://pypi.org/simple/", "Foo_Bar", "https://pypi.org/simple/foo-bar/"},
		{"https://pypi.org/simple", "six", "https://pypi.org/simple/six/"},
	}
	for _, tt := range tests {
		if got := ProjectURL(tt.index, tt.name); got != tt.want {
			t.Errorf("ProjectURL(%q, %q) = %q, want %q", tt.index, tt.name, got, tt.want)
		}
	}
}

func TestParseHTMLPage_ResolvesLinks(t *testing.T) {
	idx := newFakeIndex(t)
	client, err := newSimpleClient(nil, 4)
	if err != nil {
		t.Fatalf("newSimpleClient() error = %v", err)
	}

	files, err := client.Files(context.Background(), idx.url("extra"), "torch")
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("Files() returned %d files, want 1", len(files))
	}
	want := idx.server.URL + "/packages/torch-2.1.1+cu118-cp311-cp311-linux_x86_64.whl#sha256=00"
	if files[0].URL != want {
		t.Errorf("URL = %q, want %q", files[0].URL, want)
	}
}

func TestValidateIndexURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/pip/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, htmlPage("pip-23.3.1-py3-none-any.whl", "pip-23.3.1.tar.gz"))
	})
	mux.HandleFunc("/site/pip/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>Welcome</body></html>")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tests := []struct {
		name    string
		url     string
		wantBad bool
	}{
		{"simple index", server.URL + "/simple/", false},
		{"not an index", server.URL + "/site/", true},
		{"missing", server.URL + "/nothing/", true},
		{"bad scheme", "ftp://example.com/simple/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIndexURL(context.Background(), server.Client(), tt.url)
			var bad *BadIndexError
			if gotBad := errors.As(err, &bad); gotBad != tt.wantBad {
				t.Fatalf("ValidateIndexURL(%q) error = %v, wantBad %v", tt.url, err, tt.wantBad)
			}
			if tt.wantBad && bad.URL != tt.url {
				t.Errorf("BadIndexError.URL = %q, want %q", bad.URL, tt.url)
			}
		})
	}
}
