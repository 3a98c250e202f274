package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/genai"
)

// Model 生成模型，对调用方是黑盒：可能很慢、可能失败
type Model interface {
	Complete(ctx context.Context, prompt string, maxTokens int32) (string, error)
}

// ErrEmptyResponse 模型返回了空文本
var ErrEmptyResponse = errors.New("empty model response")

// GeminiClient 基于 genai 的 Gemini 客户端
type GeminiClient struct {
	client     *genai.Client
	chatModels []string // 多模型轮换
	modelIdx   atomic.Int64
	temp       float32
	limiter    *rateLimiter
}

var _ Model = (*GeminiClient)(nil)

func NewGeminiClient(ctx context.Context, apiKey string, chatModels []string, temp float32, rpmLimit int) (*GeminiClient, error) {
	if len(chatModels) == 0 {
		return nil, fmt.Errorf("at least one chat model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		chatModels: chatModels,
		temp:       temp,
		limiter:    newRateLimiter(rpmLimit),
	}, nil
}

// currentModel 获取当前模型
func (c *GeminiClient) currentModel() string {
	idx := c.modelIdx.Load() % int64(len(c.chatModels))
	return c.chatModels[idx]
}

// rotateModel 切换到下一个模型
func (c *GeminiClient) rotateModel() string {
	newIdx := c.modelIdx.Add(1) % int64(len(c.chatModels))
	model := c.chatModels[newIdx]
	slog.Info("rotating to next model", "model", model)
	return model
}

// Complete 单轮生成，429 时切换到下一个模型，每个模型最多尝试一次
func (c *GeminiClient) Complete(ctx context.Context, prompt string, maxTokens int32) (string, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return "", err
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.temp),
		MaxOutputTokens: maxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < len(c.chatModels); attempt++ {
		model := c.currentModel()
		resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			lastErr = err
			if isQuotaError(err) && ctx.Err() == nil {
				slog.Warn("model quota exceeded, switching", "model", model, "attempt", attempt+1)
				c.rotateModel()
				continue
			}
			return "", fmt.Errorf("generate content with %s: %w", model, err)
		}
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return "", ErrEmptyResponse
		}
		slog.Debug("generated reply", "model", model)
		return text, nil
	}
	return "", fmt.Errorf("all models exhausted: %w", lastErr)
}

func isQuotaError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

// rateLimiter 简单令牌桶，每分钟补满
type rateLimiter struct {
	mu       sync.Mutex
	limit    int
	tokens   int
	lastTick time.Time
	now      func() time.Time
}

// newRateLimiter limit <= 0 表示不限流
func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit, tokens: limit, lastTick: time.Now(), now: time.Now}
}

func (l *rateLimiter) wait(ctx context.Context) error {
	if l.limit <= 0 {
		return nil
	}
	for {
		d := l.reserve()
		if d == 0 {
			return nil
		}
		slog.Info("rate limit reached, waiting", "duration", d)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

// reserve 取一个令牌，成功返回 0，否则返回需要等待的时长
func (l *rateLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.lastTick)
	if elapsed >= time.Minute {
		l.tokens = l.limit
		l.lastTick = now
		elapsed = 0
	}
	if l.tokens > 0 {
		l.tokens--
		return 0
	}
	return time.Minute - elapsed
}
