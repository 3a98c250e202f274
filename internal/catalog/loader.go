package catalog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// 支持的文件格式
const (
	FormatAuto = "auto"
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatHTML = "html"
)

// ErrEmpty 文件中没有任何影片
var ErrEmpty = errors.New("catalog is empty")

// 列名沿用 kinopoisk-top250 导出文件
var columnAliases = map[string]string{
	"movie":       "movie",
	"title":       "movie",
	"year":        "year",
	"country":     "country",
	"rating":      "rating",
	"overview":    "overview",
	"description": "overview",
	"director":    "director",
	"actors":      "actors",
}

// Load 按格式读取影片库文件，任何错误都应视为启动失败
func Load(path, format string) (*Table, error) {
	if format == "" || format == FormatAuto {
		format = DetectFormat(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	var films []Film
	switch format {
	case FormatCSV:
		films, err = ParseCSV(f)
	case FormatJSON:
		films, err = ParseJSON(f)
	case FormatHTML:
		films, err = ParseHTML(f)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(films) == 0 {
		return nil, fmt.Errorf("load catalog %s: %w", path, ErrEmpty)
	}
	return New(films), nil
}

// DetectFormat 根据扩展名判断格式，未知扩展名按 CSV 处理
func DetectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".html", ".htm":
		return FormatHTML
	default:
		return FormatCSV
	}
}

// ParseCSV 解析带表头的 CSV
func ParseCSV(r io.Reader) ([]Film, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := normalizeHeader(header)

	var films []Film
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		fields := make(map[string]string, len(columns))
		for i, col := range columns {
			if col != "" && i < len(row) {
				fields[col] = row[i]
			}
		}
		film, err := filmFromFields(fields)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		films = append(films, film)
	}
	return films, nil
}

// ParseJSON 解析影片对象数组，year/rating 可以是数字或字符串，actors 可以是字符串或数组
func ParseJSON(r io.Reader) ([]Film, error) {
	var raw []map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	films := make([]Film, 0, len(raw))
	for i, obj := range raw {
		fields := make(map[string]string, len(obj))
		for k, v := range obj {
			col, ok := columnAliases[strings.ToLower(strings.TrimSpace(k))]
			if !ok {
				continue
			}
			fields[col] = jsonValueString(v)
		}
		film, err := filmFromFields(fields)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		films = append(films, film)
	}
	return films, nil
}

func jsonValueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := jsonValueString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(val)
	}
}

func normalizeHeader(header []string) []string {
	columns := make([]string, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		columns[i] = columnAliases[h]
	}
	return columns
}

func filmFromFields(fields map[string]string) (Film, error) {
	film := Film{
		Title:    strings.TrimSpace(fields["movie"]),
		Country:  strings.TrimSpace(fields["country"]),
		Overview: strings.TrimSpace(fields["overview"]),
		Director: strings.TrimSpace(fields["director"]),
		Actors:   splitActors(fields["actors"]),
	}
	if film.Title == "" {
		return Film{}, fmt.Errorf("missing title")
	}

	if y := strings.TrimSpace(fields["year"]); y != "" {
		year, err := strconv.Atoi(strings.TrimSuffix(y, ".0"))
		if err != nil {
			return Film{}, fmt.Errorf("invalid year %q for %q", y, film.Title)
		}
		film.Year = year
	}
	if r := strings.TrimSpace(fields["rating"]); r != "" {
		rating, err := strconv.ParseFloat(strings.ReplaceAll(r, ",", "."), 64)
		if err != nil {
			return Film{}, fmt.Errorf("invalid rating %q for %q", r, film.Title)
		}
		film.Rating = rating
	}
	return film, nil
}

// WriteJSON 以 ParseJSON 可读的格式写出影片库
func WriteJSON(w io.Writer, films []Film) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(films); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return nil
}
