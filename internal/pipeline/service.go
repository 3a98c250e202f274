// Package pipeline 串联检索、上下文组装、生成和历史记录
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liao/cinema-bot/internal/history"
	"github.com/liao/cinema-bot/internal/persona"
	"github.com/liao/cinema-bot/internal/rag"
)

// persistTimeout 单次历史写入的上限，与调用方的 ctx 无关
const persistTimeout = 5 * time.Second

var (
	ErrEmptyQuery = errors.New("empty query")
	// ErrHistoryWrite 回答已生成但写入历史失败，Reply 仍然有效
	ErrHistoryWrite = errors.New("history write failed")
	ErrHistoryRead  = errors.New("history read failed")
	ErrHistoryClear = errors.New("history clear failed")
)

// Retriever 模糊检索
type Retriever interface {
	Retrieve(query string, topK int) []rag.Candidate
}

// Generator 生成回答，失败时自行返回兜底文案
type Generator interface {
	Generate(ctx context.Context, query, contextBlock string) string
}

// Reply 一次问答的结果
type Reply struct {
	RequestID  string
	Text       string
	Candidates []rag.Candidate
	// Found 为 false 表示检索无结果，Text 是固定的 "未找到" 文案
	Found bool
}

type Service struct {
	retriever Retriever
	generator Generator
	store     history.Store
	persona   *persona.Persona
	topK      int
	now       func() time.Time
}

func NewService(r Retriever, g Generator, store history.Store, p *persona.Persona, topK int) *Service {
	if topK <= 0 {
		topK = rag.DefaultTopK
	}
	return &Service{
		retriever: r,
		generator: g,
		store:     store,
		persona:   p,
		topK:      topK,
		now:       time.Now,
	}
}

// Answer 检索 → 组装上下文 → 生成 → 写历史。
// 写历史失败时返回完整的 Reply 和包装了 ErrHistoryWrite 的错误，由调用方决定是否仍然下发回答。
func (s *Service) Answer(ctx context.Context, userID int64, query string) (Reply, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Reply{}, ErrEmptyQuery
	}

	start := s.now()
	reply := Reply{RequestID: uuid.NewString()}
	log := slog.With("request_id", reply.RequestID, "user_id", userID)

	reply.Candidates = s.retriever.Retrieve(query, s.topK)
	if len(reply.Candidates) == 0 {
		reply.Text = s.persona.Replies.NotFound
		log.Info("no films matched query", "query", query)
	} else {
		reply.Found = true
		contextBlock := rag.Assemble(rag.Films(reply.Candidates))
		reply.Text = s.generator.Generate(ctx, query, contextBlock)
	}

	// 调用方取消（客户端断开、进程退出）后回答已经产生，仍要落库
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	entry := history.Entry{UserID: userID, Query: query, Answer: reply.Text, Timestamp: s.now()}
	if err := s.store.Append(persistCtx, entry); err != nil {
		log.Error("persist history failed", "error", err)
		return reply, fmt.Errorf("%w: %w", ErrHistoryWrite, err)
	}

	log.Info("query answered",
		"candidates", len(reply.Candidates),
		"duration", s.now().Sub(start).Round(time.Millisecond),
	)
	return reply, nil
}

// Search 只做检索，不生成也不记录
func (s *Service) Search(query string, topK int) []rag.Candidate {
	if topK <= 0 {
		topK = s.topK
	}
	return s.retriever.Retrieve(strings.TrimSpace(query), topK)
}

// History 最近 limit 条历史，按时间倒序
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]history.Entry, error) {
	entries, err := s.store.Recent(ctx, userID, limit)
	if err != nil {
		slog.Error("read history failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrHistoryRead, err)
	}
	return entries, nil
}

// ClearHistory 清空该用户的历史，幂等
func (s *Service) ClearHistory(ctx context.Context, userID int64) error {
	if err := s.store.Clear(ctx, userID); err != nil {
		slog.Error("clear history failed", "user_id", userID, "error", err)
		return fmt.Errorf("%w: %w", ErrHistoryClear, err)
	}
	slog.Info("history cleared", "user_id", userID)
	return nil
}

func (s *Service) Persona() *persona.Persona {
	return s.persona
}
