package catalog

import "strings"

// Film 单条影片记录，加载后不再修改
type Film struct {
	Title    string   `json:"movie"`
	Year     int      `json:"year"`
	Country  string   `json:"country"`
	Rating   float64  `json:"rating"`
	Overview string   `json:"overview"`
	Director string   `json:"director"`
	Actors   []string `json:"actors"`
}

// ActorsText 演员列表合并为一个可检索字段
func (f Film) ActorsText() string {
	return strings.Join(f.Actors, ", ")
}

// Table 影片库，构建后只读，可在多个 goroutine 间无锁共享
type Table struct {
	films []Film
}

// New 拷贝输入构建影片库
func New(films []Film) *Table {
	cp := make([]Film, len(films))
	for i, f := range films {
		f.Actors = append([]string(nil), f.Actors...)
		cp[i] = f
	}
	return &Table{films: cp}
}

func (t *Table) Len() int {
	return len(t.films)
}

// At 返回第 i 条记录的副本
func (t *Table) At(i int) Film {
	f := t.films[i]
	f.Actors = append([]string(nil), f.Actors...)
	return f
}

// Films 返回全部记录的副本
func (t *Table) Films() []Film {
	out := make([]Film, t.Len())
	for i := range t.films {
		out[i] = t.At(i)
	}
	return out
}

// splitActors 拆分 "A, B, C" 形式的演员字段
func splitActors(s string) []string {
	var actors []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			actors = append(actors, a)
		}
	}
	return actors
}
