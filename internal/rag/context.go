package rag

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/liao/cinema-bot/internal/catalog"
)

// Assemble 将检索到的影片渲染为给模型的上下文，按传入顺序（相关度从高到低）
func Assemble(films []catalog.Film) string {
	var b strings.Builder
	b.WriteString("Найденная информация:\n")
	for _, f := range films {
		fmt.Fprintf(&b, "- Фильм: %s (%d, %s, рейтинг: %s)\n",
			f.Title, f.Year, f.Country, strconv.FormatFloat(f.Rating, 'f', -1, 64))
		fmt.Fprintf(&b, "  Описание: %s\n", f.Overview)
		fmt.Fprintf(&b, "  Режиссёр: %s\n", f.Director)
		fmt.Fprintf(&b, "  Актёры: %s\n", f.ActorsText())
	}
	return b.String()
}
