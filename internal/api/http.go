package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/liao/cinema-bot/internal/history"
	"github.com/liao/cinema-bot/internal/pipeline"
	"github.com/liao/cinema-bot/internal/rag"
)

const maxRequestBodySize = 1 << 16

// Service 对外接口依赖的问答与历史操作
type Service interface {
	Answer(ctx context.Context, userID int64, query string) (pipeline.Reply, error)
	Search(query string, topK int) []rag.Candidate
	History(ctx context.Context, userID int64, limit int) ([]history.Entry, error)
	ClearHistory(ctx context.Context, userID int64) error
}

type askRequest struct {
	UserID int64  `json:"user_id"`
	Query  string `json:"query"`
}

type filmHit struct {
	Title    string  `json:"title"`
	Year     int     `json:"year"`
	Director string  `json:"director"`
	Rating   float64 `json:"rating"`
	Score    int     `json:"score"`
}

type askResponse struct {
	RequestID string    `json:"request_id"`
	Answer    string    `json:"answer"`
	Found     bool      `json:"found"`
	Films     []filmHit `json:"films"`
}

type historyItem struct {
	Query     string `json:"query"`
	Answer    string `json:"answer"`
	Timestamp string `json:"timestamp"`
}

// NewHandler 返回 HTTP API：问答、历史查询与清空
func NewHandler(svc Service) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/v1/ask", handleAsk(svc))
	r.Get("/v1/users/{userID}/history", handleHistory(svc))
	r.Delete("/v1/users/{userID}/history", handleClearHistory(svc))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleAsk(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		reply, err := svc.Answer(r.Context(), req.UserID, req.Query)
		switch {
		case errors.Is(err, pipeline.ErrEmptyQuery):
			httpError(w, http.StatusBadRequest, "query is required")
			return
		case errors.Is(err, pipeline.ErrHistoryWrite):
			// 请求按失败上报，但仍带上已生成的回答
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error":      "answer was not recorded in history",
				"answer":     reply.Text,
				"request_id": reply.RequestID,
			})
			return
		case err != nil:
			slog.Error("ask failed", "error", err)
			httpError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, askResponse{
			RequestID: reply.RequestID,
			Answer:    reply.Text,
			Found:     reply.Found,
			Films:     toHits(reply.Candidates),
		})
	}
}

func handleHistory(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := parseUserID(w, r)
		if !ok {
			return
		}
		limit := history.DefaultRecentLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		entries, err := svc.History(r.Context(), userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "history unavailable")
			return
		}

		items := make([]historyItem, len(entries))
		for i, e := range entries {
			items[i] = historyItem{Query: e.Query, Answer: e.Answer, Timestamp: history.FormatTimestamp(e.Timestamp)}
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "entries": items})
	}
}

func handleClearHistory(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := parseUserID(w, r)
		if !ok {
			return
		}
		if err := svc.ClearHistory(r.Context(), userID); err != nil {
			httpError(w, http.StatusInternalServerError, "history unavailable")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return userID, true
}

func toHits(cands []rag.Candidate) []filmHit {
	hits := make([]filmHit, len(cands))
	for i, c := range cands {
		hits[i] = filmHit{
			Title:    c.Film.Title,
			Year:     c.Film.Year,
			Director: c.Film.Director,
			Rating:   c.Film.Rating,
			Score:    c.Score,
		}
	}
	return hits
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
