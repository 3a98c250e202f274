package rag

import (
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/liao/cinema-bot/internal/catalog"
)

const (
	DefaultTopK      = 3
	DefaultThreshold = 50
)

// Candidate 一条检索结果，Index 为影片在库中的位置
type Candidate struct {
	Film  catalog.Film
	Index int
	Score int
}

type Options struct {
	// Threshold 得分 <= Threshold 的记录被丢弃
	Threshold int
	// Workers 并行打分的 goroutine 数，<= 0 时使用 CPU 数
	Workers int
}

func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold}
}

// 参与打分的字段：片名、简介、导演、演员
type indexedFilm [4]field

type Retriever struct {
	table     *catalog.Table
	index     []indexedFilm
	threshold int
	workers   int
}

// NewRetriever 对影片库建立小写字段索引
func NewRetriever(table *catalog.Table, opts Options) *Retriever {
	index := make([]indexedFilm, table.Len())
	for i := range index {
		f := table.At(i)
		index[i] = indexedFilm{
			newField(f.Title),
			newField(f.Overview),
			newField(f.Director),
			newField(f.ActorsText()),
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	slog.Info("catalog indexed", "films", len(index), "threshold", opts.Threshold)
	return &Retriever{
		table:     table,
		index:     index,
		threshold: opts.Threshold,
		workers:   workers,
	}
}

// Retrieve 返回得分最高的 topK 条记录，按得分降序，同分按库中顺序
// 没有命中时返回空切片，不是错误
func (r *Retriever) Retrieve(query string, topK int) []Candidate {
	if topK <= 0 {
		topK = DefaultTopK
	}
	q := newField(strings.TrimSpace(query))
	if q.runeLen() == 0 || len(r.index) == 0 {
		return nil
	}

	scores := r.scoreAll(q)

	var results []Candidate
	for i, s := range scores {
		if s > r.threshold {
			results = append(results, Candidate{Index: i, Score: s})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Film = r.table.At(results[i].Index)
	}

	slog.Debug("fuzzy retrieval done", "query", query, "matched", len(results))
	return results
}

// scoreAll 按连续区间切分后并行打分，结果下标与库中位置一致
func (r *Retriever) scoreAll(q field) []int {
	scores := make([]int, len(r.index))
	chunk := (len(r.index) + r.workers - 1) / r.workers

	var g errgroup.Group
	g.SetLimit(r.workers)
	for start := 0; start < len(r.index); start += chunk {
		start, end := start, min(start+chunk, len(r.index))
		g.Go(func() error {
			for i := start; i < end; i++ {
				scores[i] = scoreFilm(q, r.index[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return scores
}

// scoreFilm 取各字段得分的最大值
func scoreFilm(q field, doc indexedFilm) int {
	best := 0
	for _, f := range doc {
		if s := partialRatio(q, f); s > best {
			best = s
			if best == 100 {
				break
			}
		}
	}
	return best
}

// Films 提取检索结果中的影片
func Films(cands []Candidate) []catalog.Film {
	films := make([]catalog.Film, len(cands))
	for i, c := range cands {
		films[i] = c.Film
	}
	return films
}
