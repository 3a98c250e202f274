package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/liao/cinema-bot/internal/persona"
)

const (
	DefaultMaxTokens = 200
	DefaultTimeout   = 30 * time.Second
)

type GeneratorOptions struct {
	MaxTokens int32
	// Timeout 单次模型调用的超时
	Timeout time.Duration
	// MaxAttempts 总尝试次数，<= 1 表示不重试
	MaxAttempts int
	// Backoff 第一次重试前的等待，之后每次翻倍
	Backoff time.Duration
}

// Generator 调用模型生成回答，任何失败都返回固定的道歉文案，从不向上返回错误
type Generator struct {
	model   Model
	persona *persona.Persona
	opts    GeneratorOptions
}

func NewGenerator(model Model, p *persona.Persona, opts GeneratorOptions) *Generator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &Generator{model: model, persona: p, opts: opts}
}

// Generate 返回模型回答或道歉文案
func (g *Generator) Generate(ctx context.Context, query, contextBlock string) string {
	prompt := BuildPrompt(g.persona.Role, g.persona.Language, query, contextBlock)

	backoff := g.opts.Backoff
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		text, err := g.complete(ctx, prompt)
		if err == nil {
			return text
		}
		slog.Error("generation failed", "attempt", attempt, "max_attempts", g.opts.MaxAttempts, "error", err)

		if attempt == g.opts.MaxAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			return g.persona.Replies.Apology
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return g.persona.Replies.Apology
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	text, err := g.model.Complete(callCtx, prompt, g.opts.MaxTokens)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
