package catalog

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseHTML 解析网页导出的影片表格
// 取第一个表头包含 movie/title 列的 <table>，表头可以是 th 也可以是首行 td
func ParseHTML(r io.Reader) ([]Film, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	var (
		films    []Film
		parseErr error
		found    bool
	)
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		rows := table.Find("tr")
		if rows.Length() == 0 {
			return true
		}

		columns := normalizeHeader(cellTexts(rows.First()))
		if !hasColumn(columns, "movie") {
			return true
		}
		found = true

		rows.Slice(1, goquery.ToEnd).EachWithBreak(func(i int, row *goquery.Selection) bool {
			cells := cellTexts(row)
			if len(cells) == 0 {
				return true
			}
			fields := make(map[string]string, len(columns))
			for j, col := range columns {
				if col != "" && j < len(cells) {
					fields[col] = cells[j]
				}
			}
			film, err := filmFromFields(fields)
			if err != nil {
				parseErr = fmt.Errorf("table row %d: %w", i+2, err)
				return false
			}
			films = append(films, film)
			return true
		})
		return false
	})

	if parseErr != nil {
		return nil, parseErr
	}
	if !found {
		return nil, fmt.Errorf("no film table found")
	}
	return films, nil
}

func cellTexts(row *goquery.Selection) []string {
	var cells []string
	row.Find("th, td").Each(func(_ int, c *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(c.Text()))
	})
	return cells
}

func hasColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}
