package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitescope/siteaudit/internal/audit"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	enqueueTimeout   = 5 * time.Second
)

type submitAuditRequest struct {
	SiteURL       string   `json:"site_url"`
	Tier          string   `json:"tier"`
	Keywords      []string `json:"keywords"`
	SectionFilter string   `json:"section_filter"`
}

type auditStatusResponse struct {
	AuditID    string                       `json:"audit_id"`
	SiteURL    string                       `json:"site_url"`
	Status     audit.AuditStatus            `json:"status"`
	Tier       string                       `json:"tier"`
	Submitted  time.Time                    `json:"submitted_at"`
	Started    *time.Time                   `json:"started_at,omitempty"`
	Finished   *time.Time                   `json:"finished_at,omitempty"`
	RetryAfter *time.Time                   `json:"retry_after,omitempty"`
	Error      string                       `json:"error,omitempty"`
	Components map[string]componentProgress `json:"components,omitempty"`
	Usage      *audit.UsageCounters         `json:"usage,omitempty"`
}

type componentProgress struct {
	Status      audit.ComponentStatus `json:"status"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Error       string                `json:"error,omitempty"`
}

type auditResultsResponse struct {
	AuditID string              `json:"audit_id"`
	Status  audit.AuditStatus   `json:"status"`
	Partial bool                `json:"partial"`
	Results audit.ResultBag     `json:"results"`
	Usage   audit.UsageCounters `json:"usage"`
}

type componentRunDTO struct {
	Component    string     `json:"component"`
	Attempt      int        `json:"attempt"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

func (s *Server) submitAudit(w http.ResponseWriter, r *http.Request) {
	var req submitAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	siteURL, err := normalizeSiteURL(req.SiteURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tier, ok := s.cfg.Tier(req.Tier)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown tier")
		return
	}
	keywords := normalizeKeywords(req.Keywords, tier.MaxKeywords)

	auditID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate audit id")
		return
	}
	now := s.clock.Now()
	a := audit.Audit{
		ID:            auditID,
		SiteURL:       siteURL,
		Tier:          tier,
		Keywords:      keywords,
		SectionFilter: req.SectionFilter,
		Status:        audit.AuditPending,
		Submitted:     now,
		State:         audit.NewPipelineState(audit.AllComponentKeys()),
	}
	if err := s.store.CreateAudit(r.Context(), a); err != nil {
		s.logger.Error("create audit failed", zap.String("audit_id", auditID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create audit")
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	job := audit.Job{
		AuditID:   auditID,
		Kind:      audit.JobPrimary,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.queue.Enqueue(queueCtx, job); err != nil {
		s.logger.Error("enqueue audit failed", zap.String("audit_id", auditID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "enqueue audit")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"audit_id": auditID,
		"status":   string(audit.AuditPending),
	})
}

func (s *Server) listAudits(w http.ResponseWriter, r *http.Request) {
	status, err := parseStatus(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := contextWithTimeout(r, 3*time.Second)
	defer cancel()
	audits, err := s.store.ListAudits(ctx, status, limit, offset)
	if err != nil {
		s.logger.Error("list audits failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list audits")
		return
	}

	items := make([]auditStatusResponse, 0, len(audits))
	for _, a := range audits {
		items = append(items, toStatusResponse(a, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"audits": items,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) getAuditStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAudit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(a, true))
}

func (s *Server) getAuditResults(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAudit(w, r)
	if !ok {
		return
	}
	if a.State == nil {
		writeError(w, http.StatusNotFound, "no results yet")
		return
	}
	writeJSON(w, http.StatusOK, auditResultsResponse{
		AuditID: a.ID,
		Status:  a.Status,
		Partial: a.Status != audit.AuditCompleted,
		Results: a.State.Results,
		Usage:   a.State.Usage,
	})
}

func (s *Server) retryAudit(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAudit(w, r)
	if !ok {
		return
	}
	switch a.Status {
	case audit.AuditFailed, audit.AuditRetrying:
	default:
		writeError(w, http.StatusConflict, "audit is not in a retryable state")
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	job := audit.Job{
		AuditID:   a.ID,
		Kind:      audit.JobResume,
		Attempt:   1,
		Submitted: s.clock.Now().Unix(),
	}
	if err := s.queue.Enqueue(queueCtx, job); err != nil {
		s.logger.Error("enqueue retry failed", zap.String("audit_id", a.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "enqueue retry")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"audit_id": a.ID,
		"status":   string(audit.AuditRetrying),
	})
}

func (s *Server) listComponentRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}
	a, ok := s.loadAudit(w, r)
	if !ok {
		return
	}
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auditUUID, err := uuid.Parse(a.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "audit not found")
		return
	}

	ctx, cancel := contextWithTimeout(r, 3*time.Second)
	defer cancel()
	runs, err := s.runs.ListRuns(ctx, auditUUID, limit, offset)
	if err != nil {
		s.logger.Error("list component runs failed", zap.String("audit_id", a.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs")
		return
	}

	items := make([]componentRunDTO, 0, len(runs))
	for _, run := range runs {
		items = append(items, componentRunDTO{
			Component:    run.Component,
			Attempt:      run.Attempt,
			StartedAt:    run.StartedAt,
			FinishedAt:   run.FinishedAt,
			Status:       string(run.Status),
			ErrorMessage: run.ErrorMessage,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"audit_id": a.ID,
		"runs":     items,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) loadAudit(w http.ResponseWriter, r *http.Request) (audit.Audit, bool) {
	auditID := chi.URLParam(r, "audit_id")
	ctx, cancel := contextWithTimeout(r, 3*time.Second)
	defer cancel()
	a, err := s.store.GetAudit(ctx, auditID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit not found")
		} else {
			s.logger.Error("load audit failed", zap.String("audit_id", auditID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "load audit")
		}
		return audit.Audit{}, false
	}
	return a, true
}

func toStatusResponse(a audit.Audit, includeComponents bool) auditStatusResponse {
	resp := auditStatusResponse{
		AuditID:    a.ID,
		SiteURL:    a.SiteURL,
		Status:     a.Status,
		Tier:       a.Tier.Name,
		Submitted:  a.Submitted,
		Started:    a.Started,
		Finished:   a.Finished,
		RetryAfter: a.RetryAfter,
		Error:      a.ErrorText,
	}
	if includeComponents && a.State != nil {
		resp.Components = make(map[string]componentProgress, len(a.State.Progress))
		for key, p := range a.State.Progress {
			resp.Components[string(key)] = componentProgress{
				Status:      p.Status,
				StartedAt:   p.StartedAt,
				CompletedAt: p.CompletedAt,
				Error:       p.Error,
			}
		}
		usage := a.State.Usage
		resp.Usage = &usage
	}
	return resp
}

func normalizeSiteURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("site_url required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", errors.New("site_url is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("site_url must use http or https")
	}
	return u.String(), nil
}

func normalizeKeywords(raw []string, limit int) []string {
	seen := make(map[string]bool, len(raw))
	keywords := make([]string, 0, len(raw))
	for _, kw := range raw {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		keywords = append(keywords, kw)
		if limit > 0 && len(keywords) >= limit {
			break
		}
	}
	return keywords
}

func parseStatus(r *http.Request) (*audit.AuditStatus, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return nil, nil
	}
	status := audit.AuditStatus(strings.ToUpper(raw))
	switch status {
	case audit.AuditPending, audit.AuditCrawling, audit.AuditAnalyzing,
		audit.AuditRetrying, audit.AuditCompleted, audit.AuditFailed:
		return &status, nil
	default:
		return nil, errors.New("unknown status filter")
	}
}

func parseLimitOffset(r *http.Request) (int, int, error) {
	limit := defaultListLimit
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxListLimit {
			return 0, 0, errors.New("limit must be between 1 and 100")
		}
		limit = parsed
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return 0, 0, errors.New("offset must be >= 0")
		}
		offset = parsed
	}
	return limit, offset, nil
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
