package core

// YieldRequest 是产量预测请求。
type YieldRequest struct {
	State    string  `json:"state"`
	District string  `json:"district"`
	Season   string  `json:"season"`
	Crop     string  `json:"crop"`
	Area     float64 `json:"area"`
}

// YieldResponse 是产量预测结果，Unit 固定为 "tonnes"。
type YieldResponse struct {
	Prediction float64 `json:"prediction"`
	Unit       string  `json:"unit"`
	Message    string  `json:"message"`
}

// RecommendRequest 是作物推荐请求（土壤养分与气象条件）。
type RecommendRequest struct {
	Nitrogen    float64 `json:"nitrogen"`
	Phosphorus  float64 `json:"phosphorus"`
	Potassium   float64 `json:"potassium"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	PH          float64 `json:"ph"`
	Rainfall    float64 `json:"rainfall"`
}

// RecommendResponse 是作物推荐结果。
// Confidence 为最大类别概率，模型不支持概率估计时为 0。
type RecommendResponse struct {
	RecommendedCrop string  `json:"recommended_crop"`
	Confidence      float64 `json:"confidence"`
	Message         string  `json:"message"`
}

// Options 是表单下拉选项，每个列表升序、去重、不含缺失值。
type Options struct {
	States    []string `json:"states"`
	Districts []string `json:"districts"`
	Seasons   []string `json:"seasons"`
	Crops     []string `json:"crops"`
}

// Health 描述各制品的加载情况。
type Health struct {
	Status       string          `json:"status"`
	ModelsLoaded map[string]bool `json:"models_loaded"`
}

// ToMap 将请求转为 map，供准入规则（CEL）使用。
func (r *YieldRequest) ToMap() map[string]any {
	return map[string]any{
		"state":    r.State,
		"district": r.District,
		"season":   r.Season,
		"crop":     r.Crop,
		"area":     r.Area,
	}
}

// ToMap 将请求转为 map，供准入规则（CEL）使用。
func (r *RecommendRequest) ToMap() map[string]any {
	return map[string]any{
		"nitrogen":    r.Nitrogen,
		"phosphorus":  r.Phosphorus,
		"potassium":   r.Potassium,
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
		"ph":          r.PH,
		"rainfall":    r.Rainfall,
	}
}
