// Package ai wraps the OpenAI chat API for keyword clustering and content
// brief generation.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sitescope/siteaudit/internal/audit"
)

// Usage reports consumption for one AI call.
type Usage struct {
	Calls  int64
	Tokens int64
}

// Client produces keyword clusters and content briefs.
type Client interface {
	ClusterKeywords(ctx context.Context, keywords []string) ([]audit.KeywordCluster, Usage, error)
	GenerateBrief(ctx context.Context, cluster audit.KeywordCluster) (audit.ContentBrief, Usage, error)
}

// Config controls the OpenAI client.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string
}

// OpenAIClient implements Client on the OpenAI chat completion API.
type OpenAIClient struct {
	api    *openai.Client
	cfg    Config
	logger *zap.Logger
}

// NewOpenAIClient constructs an OpenAIClient.
func NewOpenAIClient(cfg Config, logger *zap.Logger) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		api:    openai.NewClientWithConfig(apiCfg),
		cfg:    cfg,
		logger: logger,
	}
}

const clusterSystemPrompt = "You group SEO keywords into topical clusters. " +
	"Respond with JSON: an array of objects with fields topic and keywords."

// ClusterKeywords groups keywords into topical clusters.
func (c *OpenAIClient) ClusterKeywords(ctx context.Context, keywords []string) ([]audit.KeywordCluster, Usage, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: clusterSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: strings.Join(keywords, "\n")},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	usage := Usage{Calls: 1}
	if err != nil {
		return nil, usage, fmt.Errorf("cluster keywords: %w", err)
	}
	usage.Tokens = int64(resp.Usage.TotalTokens)
	if len(resp.Choices) == 0 {
		return nil, usage, fmt.Errorf("cluster keywords: empty completion")
	}

	var parsed struct {
		Clusters []audit.KeywordCluster `json:"clusters"`
	}
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		// Some models return a bare array instead of the wrapper object.
		var clusters []audit.KeywordCluster
		if arrErr := json.Unmarshal([]byte(content), &clusters); arrErr != nil {
			return nil, usage, fmt.Errorf("parse cluster response: %w", err)
		}
		return clusters, usage, nil
	}
	return parsed.Clusters, usage, nil
}

const briefSystemPrompt = "You write SEO content briefs. Respond with JSON: " +
	"an object with fields title and outline (array of section headings)."

// GenerateBrief produces an outline for one keyword cluster.
func (c *OpenAIClient) GenerateBrief(ctx context.Context, cluster audit.KeywordCluster) (audit.ContentBrief, Usage, error) {
	prompt := fmt.Sprintf("Topic: %s\nKeywords: %s", cluster.Topic, strings.Join(cluster.Keywords, ", "))
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: briefSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	usage := Usage{Calls: 1}
	if err != nil {
		return audit.ContentBrief{}, usage, fmt.Errorf("generate brief: %w", err)
	}
	usage.Tokens = int64(resp.Usage.TotalTokens)
	if len(resp.Choices) == 0 {
		return audit.ContentBrief{}, usage, fmt.Errorf("generate brief: empty completion")
	}

	var brief audit.ContentBrief
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &brief); err != nil {
		return audit.ContentBrief{}, usage, fmt.Errorf("parse brief response: %w", err)
	}
	brief.Topic = cluster.Topic
	brief.Keywords = cluster.Keywords
	return brief, usage, nil
}
