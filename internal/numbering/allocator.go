package numbering

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// sequenceWidth 序号固定 6 位，不足补零
const sequenceWidth = 6

// NumberLister 按前缀列出已有案件编号（由 ErrandRepository 实现）
type NumberLister interface {
	ListErrandNumbersByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Allocator 案件编号分配器：ABBR-YEAR-NNNNNN，按缩写和年份递增
type Allocator struct {
	numbers NumberLister
	nowFunc func() time.Time
}

// NewAllocator 创建编号分配器
func NewAllocator(numbers NumberLister) *Allocator {
	return &Allocator{
		numbers: numbers,
		nowFunc: time.Now,
	}
}

// WithClock 替换时钟（测试用）
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	a.nowFunc = now
	return a
}

// Next 计算下一个编号。并发分配可能得到相同编号，由存储层唯一约束兜底（冲突返回 ConflictError）
func (a *Allocator) Next(ctx context.Context, abbreviation string) (string, error) {
	abbreviation = strings.TrimSpace(abbreviation)
	if abbreviation == "" {
		return "", fmt.Errorf("abbreviation is empty")
	}

	numbers, err := a.numbers.ListErrandNumbersByPrefix(ctx, abbreviation+"-")
	if err != nil {
		return "", fmt.Errorf("failed to list errand numbers: %w", err)
	}

	year := a.nowFunc().Year()
	next := MaxSequence(numbers, abbreviation, year) + 1
	return Format(abbreviation, year, next), nil
}

// Format 格式化编号
func Format(abbreviation string, year, sequence int) string {
	return fmt.Sprintf("%s-%d-%0*d", abbreviation, year, sequenceWidth, sequence)
}

// MaxSequence 返回指定缩写和年份下的最大序号；格式错误或空白的编号忽略
func MaxSequence(numbers []string, abbreviation string, year int) int {
	highest := 0
	for _, n := range numbers {
		abbr, y, seq, ok := Parse(n)
		if !ok || abbr != abbreviation || y != year {
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	return highest
}

// Parse 解析编号；缩写本身可以包含 "-"，年份和序号取最后两段
func Parse(number string) (abbreviation string, year, sequence int, ok bool) {
	number = strings.TrimSpace(number)
	last := strings.LastIndex(number, "-")
	if last <= 0 || last == len(number)-1 {
		return "", 0, 0, false
	}
	head, seqPart := number[:last], number[last+1:]

	mid := strings.LastIndex(head, "-")
	if mid <= 0 || mid == len(head)-1 {
		return "", 0, 0, false
	}
	abbreviation, yearPart := head[:mid], head[mid+1:]

	year, err := strconv.Atoi(yearPart)
	if err != nil || len(yearPart) != 4 {
		return "", 0, 0, false
	}
	sequence, err = strconv.Atoi(seqPart)
	if err != nil || sequence < 0 {
		return "", 0, 0, false
	}
	return abbreviation, year, sequence, true
}
