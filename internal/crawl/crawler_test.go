package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/storage/memory"
)

const homePage = `<html><head><title>Home</title>
<meta name="description" content="A test site"></head>
<body><h1>Welcome</h1>
<a href="/blog/post-one">Post</a>
<a href="/about">About</a>
<a href="/missing">Broken</a>
<a href="https://elsewhere.example/x">External</a>
</body></html>`

const blogPage = `<html><head><title>Post One</title></head>
<body><h1>Post One</h1><p>some words here for counting</p></body></html>`

const aboutPage = `<html><head><title>About</title></head>
<body><h1>About</h1></body></html>`

func testSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	serve := func(path, body string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(body))
		})
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(homePage))
	})
	serve("/blog/post-one", blogPage)
	serve("/about", aboutPage)
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0"?><urlset></urlset>`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testCrawler(t *testing.T) (*Crawler, *memory.BlobStore) {
	t.Helper()
	artifacts := memory.NewBlobStore()
	c := New(Config{
		Timeout:     5 * time.Second,
		Parallelism: 2,
		MaxDepth:    3,
	}, artifacts, nil)
	return c, artifacts
}

func pageByTitle(pages []audit.Page, title string) (audit.Page, bool) {
	for _, p := range pages {
		if p.Title == title {
			return p, true
		}
	}
	return audit.Page{}, false
}

func TestCrawlCollectsPages(t *testing.T) {
	srv := testSite(t)
	c, artifacts := testCrawler(t)

	result, err := c.Crawl(context.Background(), audit.CrawlRequest{
		AuditID:   "a1",
		SiteURL:   srv.URL,
		PageLimit: 25,
	}, nil)
	require.NoError(t, err)
	require.Len(t, result.Pages, 3)

	home, ok := pageByTitle(result.Pages, "Home")
	require.True(t, ok)
	require.Equal(t, "Home", home.Title)
	require.Equal(t, "A test site", home.MetaDescription)
	require.Equal(t, []string{"Welcome"}, home.H1s)
	require.NotEmpty(t, home.ContentHash)
	require.Len(t, home.InternalLinks, 3)
	require.Equal(t, []string{"https://elsewhere.example/x"}, home.ExternalLinks)
	require.Equal(t, 0, home.Depth)

	post, ok := pageByTitle(result.Pages, "Post One")
	require.True(t, ok)
	require.Equal(t, "blog", post.Section)
	require.Equal(t, 1, post.Depth)
	require.Positive(t, post.WordCount)

	require.Equal(t, []string{"blog"}, result.Sections)
	require.True(t, result.HasRobotsTxt)
	require.True(t, result.HasSitemap)

	// One broken link from the home page.
	require.Len(t, result.BrokenLinks, 1)
	require.Equal(t, srv.URL+"/missing", result.BrokenLinks[0].ToURL)
	require.Equal(t, http.StatusNotFound, result.BrokenLinks[0].StatusCode)

	// Each collected page's raw HTML was snapshotted for later cleanup.
	require.Equal(t, 3, artifacts.Len())
}

func TestCrawlHonorsPageLimit(t *testing.T) {
	srv := testSite(t)
	c, _ := testCrawler(t)

	result, err := c.Crawl(context.Background(), audit.CrawlRequest{
		AuditID:   "a1",
		SiteURL:   srv.URL,
		PageLimit: 1,
	}, nil)
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
}

func TestCrawlSectionFilter(t *testing.T) {
	srv := testSite(t)
	c, _ := testCrawler(t)

	result, err := c.Crawl(context.Background(), audit.CrawlRequest{
		AuditID:       "a1",
		SiteURL:       srv.URL,
		PageLimit:     25,
		SectionFilter: "blog",
	}, nil)
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
	require.Equal(t, "blog", result.Pages[0].Section)
}

func TestCrawlInvokesOnPage(t *testing.T) {
	srv := testSite(t)
	c, _ := testCrawler(t)

	var streamed int
	_, err := c.Crawl(context.Background(), audit.CrawlRequest{
		AuditID:   "a1",
		SiteURL:   srv.URL,
		PageLimit: 25,
	}, func(audit.Page) { streamed++ })
	require.NoError(t, err)
	require.Equal(t, 3, streamed)
}

func TestCrawlRejectsInvalidURL(t *testing.T) {
	c, _ := testCrawler(t)
	_, err := c.Crawl(context.Background(), audit.CrawlRequest{SiteURL: "not a url"}, nil)
	require.Error(t, err)
}
