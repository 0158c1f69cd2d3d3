package core

import "context"

// 预测操作名称，用于缓存 key、准入规则和预测日志。
const (
	OpPredictYield  = "predict_yield"
	OpRecommendCrop = "recommend_crop"
)

// PredictionEvent 是一次成功预测的记录（轻量级，只包含必要信息），
// 用于离线评估与再训练。
type PredictionEvent struct {
	ID         string         `json:"id"`
	Op         string         `json:"op"`
	Request    map[string]any `json:"request"`
	Features   []float64      `json:"features"`
	Result     string         `json:"result"` // 产量（格式化后的数值）或推荐作物
	Value      float64        `json:"value"`  // 产量预测值；推荐时为置信度
	Confidence float64        `json:"confidence,omitempty"`
	Timestamp  int64          `json:"timestamp"` // Unix 时间戳（秒）
}

// Recorder 预测记录器接口（异步非阻塞）。
// 记录失败不应影响预测请求本身。
type Recorder interface {
	// Record 记录一次预测
	Record(ctx context.Context, event *PredictionEvent) error

	// Close 优雅关闭（等待缓冲数据发送完成）
	Close() error
}
