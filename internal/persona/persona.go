package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/liao/cinema-bot/internal/history"
)

// Persona 助手的身份设定和所有固定回复文案
type Persona struct {
	Role     string  `json:"role"`
	Language string  `json:"language"`
	Replies  Replies `json:"replies"`
	// Timezone 历史记录展示用的 IANA 时区，空为本机时区；存储始终是 UTC
	Timezone string `json:"timezone"`
}

type Replies struct {
	Greeting       string `json:"greeting"`
	Help           string `json:"help"`
	NotFound       string `json:"not_found"`
	Apology        string `json:"apology"`
	HistoryHeader  string `json:"history_header"`
	HistoryEmpty   string `json:"history_empty"`
	HistoryCleared string `json:"history_cleared"`
	StorageFailure string `json:"storage_failure"`
}

// Default 默认文案（俄语）
func Default() *Persona {
	return &Persona{
		Role:     "бот, специализирующийся на кинематографии",
		Language: "русском",
		Replies: Replies{
			Greeting: "🎬 Привет! Я бот, который поможет с информацией о фильмах, режиссёрах, актёрах и жанрах. " +
				"Задай вопрос, например: 'Какие фильмы снял Нолан?'",
			Help: "🎬 Я бот по кинематографии! Могу:\n" +
				"- Рассказать о фильмах (например, \"Расскажи о 'Начало'\").\n" +
				"- Дать информацию о режиссёрах или актёрах (например, \"Фильмы с Томом Хэнксом\").\n" +
				"- Показать историю диалогов (/history).\n" +
				"- Очистить историю (/clear_history).\n" +
				"Задай вопрос, и я помогу!",
			NotFound: "Извините, ничего не найдено. Попробуйте уточнить запрос, например, указать название фильма, " +
				"имя режиссёра, актёра или жанр.",
			Apology:        "Произошла ошибка при формировании ответа. Попробуйте снова.",
			HistoryHeader:  "📜 Последние %d запросов:",
			HistoryEmpty:   "История пуста.",
			HistoryCleared: "История очищена!",
			StorageFailure: "Не удалось обратиться к истории диалогов. Попробуйте позже.",
		},
	}
}

// LoadFromFile 读取 JSON 覆盖文件，未填写的字段保留默认值
func LoadFromFile(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	p := Default()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("unmarshal persona: %w", err)
	}
	p.fillDefaults()
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return nil, fmt.Errorf("persona timezone: %w", err)
		}
	}
	return p, nil
}

// fillDefaults JSON 里显式写了空字符串时回退到默认值
func (p *Persona) fillDefaults() {
	d := Default()
	setIfEmpty(&p.Role, d.Role)
	setIfEmpty(&p.Language, d.Language)
	r, dr := &p.Replies, d.Replies
	setIfEmpty(&r.Greeting, dr.Greeting)
	setIfEmpty(&r.Help, dr.Help)
	setIfEmpty(&r.NotFound, dr.NotFound)
	setIfEmpty(&r.Apology, dr.Apology)
	setIfEmpty(&r.HistoryHeader, dr.HistoryHeader)
	setIfEmpty(&r.HistoryEmpty, dr.HistoryEmpty)
	setIfEmpty(&r.HistoryCleared, dr.HistoryCleared)
	setIfEmpty(&r.StorageFailure, dr.StorageFailure)
}

func (p *Persona) location() *time.Location {
	if p.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func setIfEmpty(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

// FormatHistory 将历史记录渲染为带时间戳的列表
func (p *Persona) FormatHistory(entries []history.Entry) string {
	if len(entries) == 0 {
		return p.Replies.HistoryEmpty
	}

	var b strings.Builder
	if strings.Contains(p.Replies.HistoryHeader, "%d") {
		fmt.Fprintf(&b, p.Replies.HistoryHeader, len(entries))
	} else {
		b.WriteString(p.Replies.HistoryHeader)
	}
	b.WriteString("\n\n")
	loc := p.location()
	for _, e := range entries {
		fmt.Fprintf(&b, "🕒 %s\n🗣 Запрос: %s\n📢 Ответ: %s\n\n", history.DisplayTimestamp(e.Timestamp, loc), e.Query, e.Answer)
	}
	return strings.TrimRight(b.String(), "\n")
}
