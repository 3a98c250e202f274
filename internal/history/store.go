// Package history 按用户保存问答记录，只追加或按用户整体删除，从不原地修改
package history

import (
	"context"
	"time"
)

// TimeLayout 时间戳的存储格式。固定宽度、UTC，字典序与时间先后一致，
// Recent 的排序依赖这一点，修改格式时必须保持该性质。
const TimeLayout = "2006-01-02 15:04:05"

// DisplayLayout 展示给用户的格式，带时区缩写
const DisplayLayout = "2006-01-02 15:04:05 MST"

// DefaultRecentLimit Recent 未指定条数时的默认值
const DefaultRecentLimit = 10

// Entry 一次问答
type Entry struct {
	UserID    int64
	Query     string
	Answer    string
	Timestamp time.Time
}

// Store 历史记录存储，实现必须并发安全
type Store interface {
	// Append 写入一条记录，失败时返回错误，不允许静默丢弃
	Append(ctx context.Context, e Entry) error
	// Recent 返回该用户最近的至多 limit 条记录，按时间倒序；没有记录时返回空切片
	Recent(ctx context.Context, userID int64, limit int) ([]Entry, error)
	// Clear 删除该用户的全部记录，幂等
	Clear(ctx context.Context, userID int64) error
	Close() error
}

// DisplayTimestamp 按 loc 展示，loc 为 nil 时用本地时区
func DisplayTimestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DisplayLayout)
}

// FormatTimestamp 转为存储格式
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTimestamp 解析存储格式的时间戳
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}

// normalize 截断到秒并转为 UTC，与存储精度一致
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}
