// Package audit defines core types shared across subsystems.
package audit

import (
	"time"
)

// ComponentKey identifies one pluggable analysis component. The set is closed:
// every key the service knows about is declared here and registered at startup.
type ComponentKey string

// Known component keys.
const (
	ComponentTechnicalIssues      ComponentKey = "technicalIssues"
	ComponentInternalLinking      ComponentKey = "internalLinking"
	ComponentDuplicateContent     ComponentKey = "duplicateContent"
	ComponentPagePerformance      ComponentKey = "pagePerformance"
	ComponentCurrentRankings      ComponentKey = "currentRankings"
	ComponentKeywordOpportunities ComponentKey = "keywordOpportunities"
	ComponentCompetitorAnalysis   ComponentKey = "competitorAnalysis"
	ComponentFeaturedSnippets     ComponentKey = "featuredSnippets"
	ComponentQuickWins            ComponentKey = "quickWins"
	ComponentBriefs               ComponentKey = "briefs"
	ComponentActionPlan           ComponentKey = "actionPlan"
)

// AllComponentKeys returns every declared key in registration order.
func AllComponentKeys() []ComponentKey {
	return []ComponentKey{
		ComponentTechnicalIssues,
		ComponentInternalLinking,
		ComponentDuplicateContent,
		ComponentPagePerformance,
		ComponentCurrentRankings,
		ComponentKeywordOpportunities,
		ComponentCompetitorAnalysis,
		ComponentFeaturedSnippets,
		ComponentQuickWins,
		ComponentBriefs,
		ComponentActionPlan,
	}
}

// ComponentStatus represents the lifecycle state of one component within an audit.
type ComponentStatus string

// Component status values persisted in the pipeline state.
const (
	StatusPending   ComponentStatus = "pending"
	StatusRunning   ComponentStatus = "running"
	StatusCompleted ComponentStatus = "completed"
	StatusFailed    ComponentStatus = "failed"
)

// ComponentProgress tracks one component's lifecycle inside an audit.
type ComponentProgress struct {
	Status      ComponentStatus `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// AuditStatus represents the lifecycle state of a whole audit.
type AuditStatus string

// Audit status values persisted in the audit record.
const (
	AuditPending   AuditStatus = "PENDING"
	AuditCrawling  AuditStatus = "CRAWLING"
	AuditAnalyzing AuditStatus = "ANALYZING"
	AuditRetrying  AuditStatus = "RETRYING"
	AuditCompleted AuditStatus = "COMPLETED"
	AuditFailed    AuditStatus = "FAILED"
)

// Tier bounds how much external-service work one audit may consume. It affects
// which inputs components see, not how the pipeline sequences them.
type Tier struct {
	Name           string `json:"name" mapstructure:"name"`
	MaxPages       int    `json:"max_pages" mapstructure:"max_pages"`
	MaxKeywords    int    `json:"max_keywords" mapstructure:"max_keywords"`
	MaxCompetitors int    `json:"max_competitors" mapstructure:"max_competitors"`
	MaxBriefs      int    `json:"max_briefs" mapstructure:"max_briefs"`
}

// Audit is the persisted record for one audit request.
type Audit struct {
	ID            string         `json:"id"`
	SiteURL       string         `json:"site_url"`
	Tier          Tier           `json:"tier"`
	Keywords      []string       `json:"keywords"`
	SectionFilter string         `json:"section_filter,omitempty"`
	Status        AuditStatus    `json:"status"`
	Submitted     time.Time      `json:"submitted_at"`
	Started       *time.Time     `json:"started_at,omitempty"`
	Finished      *time.Time     `json:"finished_at,omitempty"`
	RetryAfter    *time.Time     `json:"retry_after,omitempty"`
	ErrorText     string         `json:"error_text,omitempty"`
	State         *PipelineState `json:"state,omitempty"`
}

// Page is one crawled page with the structured fields components consume.
type Page struct {
	URL             string        `json:"url"`
	StatusCode      int           `json:"status_code"`
	Title           string        `json:"title"`
	MetaDescription string        `json:"meta_description"`
	H1s             []string      `json:"h1s,omitempty"`
	InternalLinks   []string      `json:"internal_links,omitempty"`
	ExternalLinks   []string      `json:"external_links,omitempty"`
	ContentHash     string        `json:"content_hash"`
	Depth           int           `json:"depth"`
	WordCount       int           `json:"word_count"`
	Section         string        `json:"section,omitempty"`
	FetchTime       time.Duration `json:"fetch_time"`
}

// BrokenLink records a link whose target did not resolve to a 2xx page.
type BrokenLink struct {
	FromURL    string `json:"from_url"`
	ToURL      string `json:"to_url"`
	StatusCode int    `json:"status_code"`
}

// CrawlResult is the page-data set produced by one crawl batch.
type CrawlResult struct {
	Pages          []Page       `json:"pages"`
	Sections       []string     `json:"sections,omitempty"`
	HasRobotsTxt   bool         `json:"has_robots_txt"`
	HasSitemap     bool         `json:"has_sitemap"`
	RedirectChains [][]string   `json:"redirect_chains,omitempty"`
	BrokenLinks    []BrokenLink `json:"broken_links,omitempty"`
}

// ComponentInput is the read-only context handed to a component run. Results
// is a snapshot of already-produced output, never a reference into the live
// pipeline state.
type ComponentInput struct {
	AuditID  string
	SiteURL  string
	Tier     Tier
	Keywords []string
	Crawl    *CrawlResult
	Results  ResultBag
}

// ComponentOutput carries a component's data slice plus the external-service
// usage it consumed.
type ComponentOutput struct {
	Data  any
	Usage UsageCounters
}
