package rag

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// field 预处理后的检索字段：小写文本、rune 序列和每个 rune 的字节偏移
type field struct {
	text  string
	runes []rune
	offs  []int // len = rune 数 + 1
}

func newField(s string) field {
	s = strings.ToLower(s)
	n := utf8.RuneCountInString(s)
	runes := make([]rune, 0, n)
	offs := make([]int, 0, n+1)
	for i, r := range s {
		runes = append(runes, r)
		offs = append(offs, i)
	}
	offs = append(offs, len(s))
	return field{text: s, runes: runes, offs: offs}
}

func (f field) runeLen() int {
	return len(f.offs) - 1
}

// window 返回第 i 个 rune 开始、长度 n 的子串（不分配内存）
func (f field) window(i, n int) string {
	return f.text[f.offs[i]:f.offs[i+n]]
}

// PartialRatio 部分匹配相似度 0..100
// 较短的串完整出现在较长的串中为 100，否则取较短串与较长串所有等长窗口的最佳编辑距离相似度
func PartialRatio(a, b string) int {
	return partialRatio(newField(a), newField(b))
}

func partialRatio(a, b field) int {
	short, long := a, b
	if short.runeLen() > long.runeLen() {
		short, long = long, short
	}
	m := short.runeLen()
	if m == 0 {
		return 0
	}
	if strings.Contains(long.text, short.text) {
		return 100
	}

	// 按下界从小到大计算窗口，下界对应的得分不超过当前最优时后面的窗口都不用算
	bounds := windowBounds(short.runes, long.runes)
	order := make([]int, len(bounds))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return bounds[order[i]] < bounds[order[j]]
	})

	best := 0
	for _, i := range order {
		if similarity(bounds[i], m) <= best {
			break
		}
		dist := levenshtein.ComputeDistance(short.text, long.window(i, m))
		if s := similarity(dist, m); s > best {
			best = s
			if best == 100 {
				break
			}
		}
	}
	return best
}

// windowBounds 返回 long 中每个长度为 len(short) 的窗口与 short 编辑距离的下界。
// 等长串之间每次编辑最多让字符频次差之和变化 2，所以距离 >= 频次差之和 / 2。
// 窗口右移时只更新进出的两个 rune。
func windowBounds(short, long []rune) []int {
	m := len(short)
	diff := make(map[rune]int, m)
	for _, r := range short {
		diff[r]++
	}
	total := 0
	shift := func(r rune, delta int) {
		total -= abs(diff[r])
		diff[r] += delta
		total += abs(diff[r])
	}
	for _, c := range diff {
		total += abs(c)
	}
	for _, r := range long[:m] {
		shift(r, -1)
	}

	bounds := make([]int, len(long)-m+1)
	bounds[0] = total / 2
	for i := 1; i < len(bounds); i++ {
		shift(long[i-1], +1)
		shift(long[i+m-1], -1)
		bounds[i] = total / 2
	}
	return bounds
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func similarity(dist, length int) int {
	if dist >= length {
		return 0
	}
	return int(math.Round(100 * float64(length-dist) / float64(length)))
}
