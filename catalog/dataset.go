// Package catalog 从训练数据集中提取各类别字段的取值，供前端表单下拉使用。
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rushteam/cropkit/core"
	"github.com/rushteam/cropkit/feature"
)

// missingTokens 是 pandas read_csv 默认识别为缺失值的字符串。
var missingTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// IsMissing 判断单元格是否为缺失值。
func IsMissing(v string) bool {
	_, ok := missingTokens[v]
	return ok
}

// Dataset 作物生产数据集（只保留类别字段的去重取值）。
// 加载后不可变，可被并发读取。
type Dataset struct {
	Rows int

	states    []string
	districts []string
	seasons   []string
	crops     []string
}

// LoadCropDataset 从 CSV 文件加载数据集。
func LoadCropDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return ReadCropDataset(f)
}

// ReadCropDataset 从 CSV 读取数据集，首行为表头，
// 必须包含 State_Name、District_Name、Season、Crop 四列。
func ReadCropDataset(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset is empty")
		}
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	cols := make([]int, len(feature.CategoricalColumns))
	for i, name := range feature.CategoricalColumns {
		cols[i] = indexOf(header, name)
		if cols[i] < 0 {
			return nil, fmt.Errorf("dataset has no column %q", name)
		}
	}

	seen := make([]map[string]struct{}, len(cols))
	for i := range seen {
		seen[i] = make(map[string]struct{})
	}
	rows := 0
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset: %w", err)
		}
		rows++
		for i, c := range cols {
			if c >= len(record) || IsMissing(record[c]) {
				continue
			}
			seen[i][record[c]] = struct{}{}
		}
	}

	return &Dataset{
		Rows:      rows,
		states:    sortedValues(seen[0]),
		districts: sortedValues(seen[1]),
		seasons:   sortedValues(seen[2]),
		crops:     sortedValues(seen[3]),
	}, nil
}

// Options 返回四个类别字段的取值（副本）。
func (d *Dataset) Options() core.Options {
	return core.Options{
		States:    append([]string{}, d.states...),
		Districts: append([]string{}, d.districts...),
		Seasons:   append([]string{}, d.seasons...),
		Crops:     append([]string{}, d.crops...),
	}
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

// sortedValues 去重后排序：全部可解析为数字时按数值去重、排序，否则按字典序。
// 数值相同的多种写法（"1"、"1.0"、"01"）只保留最短的一个。
func sortedValues(set map[string]struct{}) []string {
	values := make([]string, 0, len(set))
	for v := range set {
		values = append(values, v)
	}

	nums := make(map[string]float64, len(values))
	for _, v := range values {
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			nums = nil
			break
		}
		nums[v] = n
	}

	if nums == nil {
		sort.Strings(values)
		return values
	}

	byValue := make(map[float64]string, len(values))
	for _, v := range values {
		n := nums[v]
		if cur, ok := byValue[n]; !ok || len(v) < len(cur) || (len(v) == len(cur) && v < cur) {
			byValue[n] = v
		}
	}
	values = values[:0]
	for _, v := range byValue {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		return nums[values[i]] < nums[values[j]]
	})
	return values
}
