package audit

// ResultBag accumulates component output for one audit. Each field is owned by
// exactly one component: its Store merge writes the field and nothing else ever
// does. Fields stay nil until the owning component completes, so "which results
// exist" is visible in the type rather than through runtime presence checks.
type ResultBag struct {
	Technical     *TechnicalReport   `json:"technical,omitempty"`
	Linking       *LinkingReport     `json:"linking,omitempty"`
	Duplicates    *DuplicateReport   `json:"duplicates,omitempty"`
	Performance   *PerformanceReport `json:"performance,omitempty"`
	Rankings      *RankingReport     `json:"rankings,omitempty"`
	Opportunities *OpportunityReport `json:"opportunities,omitempty"`
	Competitors   *CompetitorReport  `json:"competitors,omitempty"`
	Snippets      *SnippetReport     `json:"snippets,omitempty"`
	QuickWins     *QuickWinReport    `json:"quick_wins,omitempty"`
	Briefs        *BriefReport       `json:"briefs,omitempty"`
	ActionPlan    *ActionPlanReport  `json:"action_plan,omitempty"`
}

// Merge adopts every non-nil field from other. Store merges replace whole
// fields and never mutate a report in place, so pointer adoption is safe.
func (b ResultBag) Merge(other ResultBag) ResultBag {
	if other.Technical != nil {
		b.Technical = other.Technical
	}
	if other.Linking != nil {
		b.Linking = other.Linking
	}
	if other.Duplicates != nil {
		b.Duplicates = other.Duplicates
	}
	if other.Performance != nil {
		b.Performance = other.Performance
	}
	if other.Rankings != nil {
		b.Rankings = other.Rankings
	}
	if other.Opportunities != nil {
		b.Opportunities = other.Opportunities
	}
	if other.Competitors != nil {
		b.Competitors = other.Competitors
	}
	if other.Snippets != nil {
		b.Snippets = other.Snippets
	}
	if other.QuickWins != nil {
		b.QuickWins = other.QuickWins
	}
	if other.Briefs != nil {
		b.Briefs = other.Briefs
	}
	if other.ActionPlan != nil {
		b.ActionPlan = other.ActionPlan
	}
	return b
}

// TechnicalReport is produced by the technicalIssues component.
type TechnicalReport struct {
	MissingTitles       []string     `json:"missing_titles,omitempty"`
	MissingDescriptions []string     `json:"missing_descriptions,omitempty"`
	DuplicateTitles     []string     `json:"duplicate_titles,omitempty"`
	BrokenLinks         []BrokenLink `json:"broken_links,omitempty"`
	RedirectChains      [][]string   `json:"redirect_chains,omitempty"`
	HasRobotsTxt        bool         `json:"has_robots_txt"`
	HasSitemap          bool         `json:"has_sitemap"`
	IssueCount          int          `json:"issue_count"`
}

// LinkingReport is produced by the internalLinking component.
type LinkingReport struct {
	OrphanPages      []string `json:"orphan_pages,omitempty"`
	DeepPages        []string `json:"deep_pages,omitempty"`
	MaxDepth         int      `json:"max_depth"`
	AvgInternalLinks float64  `json:"avg_internal_links"`
}

// DuplicateReport is produced by the duplicateContent component.
type DuplicateReport struct {
	// Groups holds sets of URLs sharing an identical content fingerprint.
	Groups [][]string `json:"groups,omitempty"`
}

// PageTiming captures render metrics for one page.
type PageTiming struct {
	URL          string  `json:"url"`
	LoadMs       int64   `json:"load_ms"`
	FirstPaintMs int64   `json:"first_paint_ms"`
	SizeBytes    int64   `json:"size_bytes"`
	Score        float64 `json:"score"`
}

// PerformanceReport is produced by the pagePerformance component.
type PerformanceReport struct {
	Pages     []PageTiming `json:"pages,omitempty"`
	SlowPages []string     `json:"slow_pages,omitempty"`
	AvgLoadMs int64        `json:"avg_load_ms"`
}

// KeywordRanking is one tracked keyword's current SERP position.
type KeywordRanking struct {
	Keyword      string   `json:"keyword"`
	Position     int      `json:"position"`
	URL          string   `json:"url,omitempty"`
	TopDomains   []string `json:"top_domains,omitempty"`
	SnippetOwner string   `json:"snippet_owner,omitempty"`
	Volume       int      `json:"volume,omitempty"`
}

// RankingReport is produced by the currentRankings component.
type RankingReport struct {
	Keywords []KeywordRanking `json:"keywords,omitempty"`
}

// Opportunity is a keyword ranking close enough to page one to be worth work.
type Opportunity struct {
	Keyword  string  `json:"keyword"`
	Position int     `json:"position"`
	URL      string  `json:"url,omitempty"`
	Score    float64 `json:"score"`
}

// OpportunityReport is produced by the keywordOpportunities component.
type OpportunityReport struct {
	Opportunities []Opportunity `json:"opportunities,omitempty"`
}

// Competitor aggregates how often one domain outranks the audited site.
type Competitor struct {
	Domain      string `json:"domain"`
	Appearances int    `json:"appearances"`
}

// CompetitorReport is produced by the competitorAnalysis component.
type CompetitorReport struct {
	Competitors []Competitor `json:"competitors,omitempty"`
	GapKeywords []string     `json:"gap_keywords,omitempty"`
}

// SnippetResult records a keyword whose SERP carries a featured snippet.
type SnippetResult struct {
	Keyword string `json:"keyword"`
	Owner   string `json:"owner"`
	Owned   bool   `json:"owned"`
}

// SnippetReport is produced by the featuredSnippets component.
type SnippetReport struct {
	Snippets []SnippetResult `json:"snippets,omitempty"`
}

// QuickWin is an opportunity achievable with a single on-page fix.
type QuickWin struct {
	Keyword  string `json:"keyword"`
	URL      string `json:"url"`
	Position int    `json:"position"`
	Fix      string `json:"fix"`
}

// QuickWinReport is produced by the quickWins component.
type QuickWinReport struct {
	Wins []QuickWin `json:"wins,omitempty"`
}

// KeywordCluster groups topically related keywords.
type KeywordCluster struct {
	Topic    string   `json:"topic"`
	Keywords []string `json:"keywords"`
}

// ContentBrief is an AI-generated outline for one cluster.
type ContentBrief struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title"`
	Outline  []string `json:"outline,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// BriefReport is produced by the briefs component.
type BriefReport struct {
	Clusters []KeywordCluster `json:"clusters,omitempty"`
	Briefs   []ContentBrief   `json:"briefs,omitempty"`
}

// ActionItem is one prioritized task in the final plan.
type ActionItem struct {
	Priority    int    `json:"priority"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// ActionPlanReport is produced by the actionPlan component.
type ActionPlanReport struct {
	Tasks []ActionItem `json:"tasks,omitempty"`
}
