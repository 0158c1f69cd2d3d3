package feature

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// FallbackCode 是未知类别的编码：统一映射到第一个类别。
// 这是有损策略，未见过的类别会被当作第一个训练类别参与预测。
const FallbackCode = 0

// LabelEncoder Label 编码（标签编码）
// 每个类别列对应一个训练时拟合好的词表，类别映射为 0..N-1 的整数。
// 加载后不可变，可被并发读取。
type LabelEncoder struct {
	classes map[string][]string       // 列名 -> 按编码顺序排列的类别
	index   map[string]map[string]int // 列名 -> 类别 -> 编码
}

// NewLabelEncoder 创建 Label 编码器。
// classes 中每个列表的下标即编码，列表内不允许重复。
func NewLabelEncoder(classes map[string][]string) (*LabelEncoder, error) {
	e := &LabelEncoder{
		classes: make(map[string][]string, len(classes)),
		index:   make(map[string]map[string]int, len(classes)),
	}
	for col, values := range classes {
		idx := make(map[string]int, len(values))
		for i, v := range values {
			if _, dup := idx[v]; dup {
				return nil, fmt.Errorf("column %q: duplicate class %q", col, v)
			}
			idx[v] = i
		}
		e.classes[col] = append([]string(nil), values...)
		e.index[col] = idx
	}
	return e, nil
}

// LoadLabelEncoder 从 JSON 文件加载编码器，格式：
//
//	{"State_Name": ["Andhra Pradesh", ...], "Crop": ["Arecanut", ...]}
func LoadLabelEncoder(path string) (*LabelEncoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read label encoders: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse label encoders: %w", err)
	}
	return NewLabelEncoder(raw)
}

// Has 判断某列是否有编码器。
func (e *LabelEncoder) Has(column string) bool {
	_, ok := e.index[column]
	return ok
}

// Lookup 返回类别的训练编码，未知类别返回 (FallbackCode, false)。
func (e *LabelEncoder) Lookup(column, label string) (int, bool) {
	if code, ok := e.index[column][label]; ok {
		return code, true
	}
	return FallbackCode, false
}

// Encode 编码单个值，从不失败：未知类别（或未知列）返回 FallbackCode。
func (e *LabelEncoder) Encode(column, label string) int {
	code, _ := e.Lookup(column, label)
	return code
}

// Classes 返回某列的类别列表（副本）。
func (e *LabelEncoder) Classes(column string) []string {
	return append([]string(nil), e.classes[column]...)
}

// Columns 返回所有已编码的列名（排序）。
func (e *LabelEncoder) Columns() []string {
	cols := make([]string, 0, len(e.classes))
	for c := range e.classes {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
