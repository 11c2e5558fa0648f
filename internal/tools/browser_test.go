package tools

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testPage = `<!doctype html><html><head><title> Example  Page </title>
<style>body{color:red}</style><script>var secret = 1;</script></head>
<body><h1>Hello</h1><p>Some    spaced
text.</p><noscript>enable js</noscript></body></html>`

const testResults = `<html><body>
<div class="result"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F&rut=x">The Go <b>Programming</b> Language</a>
<a class="result__snippet">Go is an open source language.</a></div>
<div class="result"><a class="result__a" href="https://example.com/direct">Direct hit</a>
<div class="result__snippet">Plain link.</div></div>
</body></html>`

func TestBrowseWebExtractsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing user agent")
		}
		_, _ = w.Write([]byte(testPage))
	}))
	defer srv.Close()

	w := NewBrowserWorker("", "", time.Second)
	d := data(t, run(t, w, "browse_web", map[string]any{"url": srv.URL, "extract": "headline"}))
	if d["title"] != "Example Page" {
		t.Fatalf("unexpected title %q", d["title"])
	}
	content := d["content"].(string)
	if content != "Hello Some spaced text." {
		t.Fatalf("unexpected content %q", content)
	}
	if d["extract"] != "headline" || d["truncated"] != false {
		t.Fatalf("unexpected fields %v", d)
	}
}

func TestBrowseWebTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<p>" + strings.Repeat("word ", 3000) + "</p>"))
	}))
	defer srv.Close()

	d := data(t, run(t, NewBrowserWorker("", "", time.Second), "browse_web", map[string]any{"url": srv.URL}))
	if len(d["content"].(string)) != maxPageChars || d["truncated"] != true {
		t.Fatalf("expected truncation, got len %d", len(d["content"].(string)))
	}
}

func TestBrowseWebRejectsBadInput(t *testing.T) {
	w := NewBrowserWorker("", "", time.Second)
	if res := run(t, w, "browse_web", map[string]any{}); res.Error != "Missing url" {
		t.Fatalf("unexpected %+v", res)
	}
	if res := run(t, w, "browse_web", map[string]any{"url": "file:///etc/passwd"}); res.Success {
		t.Fatal("non-http schemes must be rejected")
	}
}

func TestWebSearchParsesResults(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(testResults))
	}))
	defer srv.Close()

	w := NewBrowserWorker(srv.URL+"/html/", "", time.Second)
	d := data(t, run(t, w, "web_search", map[string]any{"query": "golang docs"}))
	if gotQuery != "golang docs" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	results := d["results"].([]SearchResult)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %+v", results)
	}
	if results[0] != (SearchResult{Title: "The Go Programming Language", URL: "https://go.dev/", Snippet: "Go is an open source language."}) {
		t.Fatalf("unexpected first result %+v", results[0])
	}
	if results[1].URL != "https://example.com/direct" || results[1].Snippet != "Plain link." {
		t.Fatalf("unexpected second result %+v", results[1])
	}
}
