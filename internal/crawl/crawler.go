// Package crawl implements the site crawler consumed by the audit pipeline
// using the Colly collector.
package crawl

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/hash/sha256"
	"github.com/sitescope/siteaudit/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	Delay       time.Duration
	Parallelism int
	MaxDepth    int
}

// Crawler implements audit.Crawler on gocolly. Raw page HTML is snapshotted to
// the artifact store so a failed audit's artifacts can be cleaned up in one
// prefix delete.
type Crawler struct {
	cfg       Config
	artifacts audit.ArtifactStore
	hasher    *sha256.Hasher
	logger    *zap.Logger
}

// New builds a Crawler.
func New(cfg Config, artifacts audit.ArtifactStore, logger *zap.Logger) *Crawler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Crawler{
		cfg:       cfg,
		artifacts: artifacts,
		hasher:    sha256.New(),
		logger:    logger,
	}
}

// Crawl walks the site breadth-first up to the page limit, extracting the
// structured page data components consume. onPage, when non-nil, is invoked
// for each collected page.
func (c *Crawler) Crawl(ctx context.Context, req audit.CrawlRequest, onPage func(audit.Page)) (*audit.CrawlResult, error) {
	root, err := url.Parse(req.SiteURL)
	if err != nil || root.Host == "" {
		return nil, fmt.Errorf("invalid site URL %q", req.SiteURL)
	}

	state := newCrawlState(req.PageLimit)
	collector := c.buildCollector(ctx, root, req, state, onPage)

	if err := collector.Visit(req.SiteURL); err != nil {
		return nil, fmt.Errorf("start crawl: %w", err)
	}
	collector.Wait()

	c.probeWellKnown(ctx, collector, root, state)

	result := state.result()
	c.logger.Info("crawl finished",
		zap.String("audit_id", req.AuditID),
		zap.String("site", root.Host),
		zap.Int("pages", len(result.Pages)),
		zap.Int("broken_links", len(result.BrokenLinks)),
	)
	return result, nil
}

func (c *Crawler) buildCollector(
	ctx context.Context,
	root *url.URL,
	req audit.CrawlRequest,
	state *crawlState,
	onPage func(audit.Page),
) *colly.Collector {
	// AllowedDomains matches on hostname without the port.
	collector := colly.NewCollector(
		colly.AllowedDomains(root.Hostname(), strings.TrimPrefix(root.Hostname(), "www.")),
		colly.MaxDepth(c.cfg.MaxDepth),
		colly.Async(true),
	)
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)
	_ = collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.cfg.Parallelism,
		Delay:       c.cfg.Delay,
	})

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil || state.full() {
			r.Abort()
		}
	})

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		pageURL := e.Request.URL.String()
		hash := c.hasher.Hash(e.Response.Body)
		page := audit.Page{
			URL:             pageURL,
			StatusCode:      e.Response.StatusCode,
			Title:           strings.TrimSpace(e.ChildText("head > title")),
			MetaDescription: e.ChildAttr(`head > meta[name="description"]`, "content"),
			H1s:             e.ChildTexts("h1"),
			ContentHash:     hash,
			Depth:           e.Request.Depth - 1,
			WordCount:       len(strings.Fields(e.Text)),
			Section:         pageSection(e.Request.URL),
		}
		e.ForEach("a[href]", func(_ int, a *colly.HTMLElement) {
			link := a.Request.AbsoluteURL(a.Attr("href"))
			if link == "" {
				return
			}
			target, err := url.Parse(link)
			if err != nil {
				return
			}
			if sameHost(target, root) {
				page.InternalLinks = append(page.InternalLinks, normalizeURL(target))
				_ = e.Request.Visit(link)
			} else {
				page.ExternalLinks = append(page.ExternalLinks, link)
			}
		})

		// Filtered pages still feed link discovery above; they are just
		// not collected.
		if req.SectionFilter != "" && !strings.Contains(e.Request.URL.Path, req.SectionFilter) {
			return
		}
		if !state.addPage(page) {
			return
		}
		c.snapshot(ctx, req.AuditID, hash, e.Response.Body)
		if onPage != nil {
			onPage(page)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		metrics.ObserveCrawlPage(r.Request.URL.String(), r.StatusCode, len(r.Body))
		if len(r.Request.URL.String()) > 0 && r.StatusCode >= 300 && r.StatusCode < 400 {
			state.addRedirect(r.Request.URL.String(), r.Headers.Get("Location"))
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Request == nil {
			return
		}
		metrics.ObserveCrawlPage(r.Request.URL.String(), r.StatusCode, 0)
		state.addBrokenLink(referer(r), r.Request.URL.String(), r.StatusCode)
		c.logger.Debug("page fetch failed",
			zap.String("audit_id", req.AuditID),
			zap.String("url", r.Request.URL.String()),
			zap.Error(err),
		)
	})

	return collector
}

// probeWellKnown checks robots.txt and sitemap.xml presence after the crawl.
func (c *Crawler) probeWellKnown(ctx context.Context, collector *colly.Collector, root *url.URL, state *crawlState) {
	if ctx.Err() != nil {
		return
	}
	probe := collector.Clone()
	probe.OnResponse(func(r *colly.Response) {
		if r.StatusCode != 200 {
			return
		}
		switch {
		case strings.HasSuffix(r.Request.URL.Path, "robots.txt"):
			state.setRobots()
		case strings.HasSuffix(r.Request.URL.Path, "sitemap.xml"):
			state.setSitemap()
		}
	})
	base := root.Scheme + "://" + root.Host
	_ = probe.Visit(base + "/robots.txt")
	_ = probe.Visit(base + "/sitemap.xml")
	probe.Wait()
}

func (c *Crawler) snapshot(ctx context.Context, auditID, hash string, body []byte) {
	if c.artifacts == nil {
		return
	}
	path := fmt.Sprintf("%s/%s.html", auditID, hash)
	if _, err := c.artifacts.PutObject(ctx, path, "text/html; charset=utf-8", body); err != nil {
		c.logger.Warn("page snapshot failed",
			zap.String("audit_id", auditID),
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

// crawlState accumulates crawl output behind a mutex; colly invokes callbacks
// from multiple goroutines when async.
type crawlState struct {
	mu        sync.Mutex
	limit     int
	pages     []audit.Page
	seen      map[string]bool
	broken    []audit.BrokenLink
	redirects map[string]string
	robots    bool
	sitemap   bool
}

func newCrawlState(limit int) *crawlState {
	return &crawlState{
		limit:     limit,
		seen:      make(map[string]bool),
		redirects: make(map[string]string),
	}
}

func (s *crawlState) full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit > 0 && len(s.pages) >= s.limit
}

func (s *crawlState) addPage(page audit.Page) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(s.pages) >= s.limit {
		return false
	}
	if s.seen[page.URL] {
		return false
	}
	s.seen[page.URL] = true
	s.pages = append(s.pages, page)
	return true
}

func (s *crawlState) addBrokenLink(from, to string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = append(s.broken, audit.BrokenLink{FromURL: from, ToURL: to, StatusCode: status})
}

func (s *crawlState) addRedirect(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to != "" {
		s.redirects[from] = to
	}
}

func (s *crawlState) setRobots() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.robots = true
}

func (s *crawlState) setSitemap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sitemap = true
}

func (s *crawlState) result() *audit.CrawlResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &audit.CrawlResult{
		Pages:        s.pages,
		HasRobotsTxt: s.robots,
		HasSitemap:   s.sitemap,
		BrokenLinks:  s.broken,
	}

	sections := make(map[string]bool)
	for _, page := range s.pages {
		if page.Section != "" {
			sections[page.Section] = true
		}
	}
	for section := range sections {
		result.Sections = append(result.Sections, section)
	}
	sort.Strings(result.Sections)

	// Walk redirect hops into chains; a chain of length >= 2 hops is worth
	// reporting.
	for from, to := range s.redirects {
		chain := []string{from, to}
		for len(chain) < 10 {
			next, ok := s.redirects[chain[len(chain)-1]]
			if !ok {
				break
			}
			chain = append(chain, next)
		}
		if len(chain) > 2 {
			result.RedirectChains = append(result.RedirectChains, chain)
		}
	}
	sort.Slice(result.RedirectChains, func(i, j int) bool {
		return result.RedirectChains[i][0] < result.RedirectChains[j][0]
	})

	return result
}

func sameHost(u, root *url.URL) bool {
	return strings.TrimPrefix(u.Host, "www.") == strings.TrimPrefix(root.Host, "www.")
}

func normalizeURL(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	return clone.String()
}

func pageSection(u *url.URL) string {
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return ""
}

func referer(r *colly.Response) string {
	if r.Request.Headers != nil {
		return r.Request.Headers.Get("Referer")
	}
	return ""
}
