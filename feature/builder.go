package feature

import (
	"errors"
	"fmt"
)

// 训练数据中的列名。特征向量的顺序必须与训练时一致，
// 顺序不一致不会报错，只会得到错误的预测。
const (
	ColumnState    = "State_Name"
	ColumnDistrict = "District_Name"
	ColumnSeason   = "Season"
	ColumnCrop     = "Crop"
	ColumnArea     = "Area"

	ColumnNitrogen    = "N"
	ColumnPhosphorus  = "P"
	ColumnPotassium   = "K"
	ColumnTemperature = "temperature"
	ColumnHumidity    = "humidity"
	ColumnPH          = "ph"
	ColumnRainfall    = "rainfall"
)

// YieldColumns 产量模型的特征顺序。
var YieldColumns = []string{ColumnState, ColumnDistrict, ColumnSeason, ColumnCrop, ColumnArea}

// CategoricalColumns 需要 Label 编码的列。
var CategoricalColumns = []string{ColumnState, ColumnDistrict, ColumnSeason, ColumnCrop}

// RecommendationColumns 推荐模型的特征顺序（全部为数值，不编码）。
var RecommendationColumns = []string{
	ColumnNitrogen, ColumnPhosphorus, ColumnPotassium,
	ColumnTemperature, ColumnHumidity, ColumnPH, ColumnRainfall,
}

// ErrNoEncoder 表示编码器集合中缺少某列。
var ErrNoEncoder = errors.New("no label encoder for column")

// BuildYieldFeatures 构建产量模型的特征向量：
// [state_code, district_code, season_code, crop_code, area]。
// 未知类别按 FallbackCode 编码；数值不做范围校验。
func BuildYieldFeatures(enc *LabelEncoder, state, district, season, crop string, area float64) ([]float64, error) {
	if enc == nil {
		return nil, errors.New("label encoders not loaded")
	}
	labels := [...]string{state, district, season, crop}
	features := make([]float64, 0, len(YieldColumns))
	for i, col := range CategoricalColumns {
		if !enc.Has(col) {
			return nil, fmt.Errorf("%w %q", ErrNoEncoder, col)
		}
		features = append(features, float64(enc.Encode(col, labels[i])))
	}
	return append(features, area), nil
}

// BuildRecommendationFeatures 构建推荐模型的特征向量：
// [N, P, K, temperature, humidity, ph, rainfall]，原样透传。
func BuildRecommendationFeatures(n, p, k, temperature, humidity, ph, rainfall float64) []float64 {
	return []float64{n, p, k, temperature, humidity, ph, rainfall}
}

// CheckColumns 校验模型制品记录的特征列与构建顺序一致。
// 制品未记录特征列（got 为空）时不做校验。
func CheckColumns(want, got []string) error {
	if len(got) == 0 {
		return nil
	}
	if len(got) != len(want) {
		return fmt.Errorf("feature count mismatch: expected %d %v, got %d %v", len(want), want, len(got), got)
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Errorf("feature %d mismatch: expected %q, got %q", i, want[i], got[i])
		}
	}
	return nil
}
