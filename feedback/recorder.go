// Package feedback 记录每次成功的预测/推荐，用于离线评估与模型再训练。
package feedback

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rushteam/cropkit/core"
)

// 记录器后端名称（配置 recorder.backend）。
const (
	BackendNone     = "none"
	BackendKafka    = "kafka"
	BackendPostgres = "postgres"
)

// NewYieldEvent 构建产量预测事件。
func NewYieldEvent(req *core.YieldRequest, features []float64, prediction float64) *core.PredictionEvent {
	return newEvent(core.OpPredictYield, req.ToMap(), features,
		strconv.FormatFloat(prediction, 'f', -1, 64), prediction, 0)
}

// NewRecommendEvent 构建作物推荐事件，Value 为置信度。
func NewRecommendEvent(req *core.RecommendRequest, features []float64, crop string, confidence float64) *core.PredictionEvent {
	return newEvent(core.OpRecommendCrop, req.ToMap(), features, crop, confidence, confidence)
}

func newEvent(op string, req map[string]any, features []float64, result string, value, confidence float64) *core.PredictionEvent {
	return &core.PredictionEvent{
		ID:         uuid.NewString(),
		Op:         op,
		Request:    req,
		Features:   append([]float64(nil), features...),
		Result:     result,
		Value:      value,
		Confidence: confidence,
		Timestamp:  time.Now().Unix(),
	}
}

// NopRecorder 丢弃所有事件（未配置记录器时使用）。
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, event *core.PredictionEvent) error { return nil }

func (NopRecorder) Close() error { return nil }

// Options 创建 Recorder 的参数。
type Options struct {
	Backend     string
	Kafka       KafkaRecorderConfig
	PostgresDSN string
}

// New 按后端名称创建 Recorder，Backend 为空或 "none" 时返回 NopRecorder。
func New(ctx context.Context, opts Options) (core.Recorder, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendNone:
		return NopRecorder{}, nil
	case BackendKafka:
		r, err := NewKafkaRecorder(opts.Kafka)
		if err != nil {
			return nil, fmt.Errorf("kafka recorder: %w", err)
		}
		return r, nil
	case BackendPostgres:
		r, err := NewPostgresRecorder(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres recorder: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown recorder backend %q", opts.Backend)
	}
}

var _ core.Recorder = NopRecorder{}
