package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/rushteam/cropkit/core"
	"github.com/rushteam/cropkit/feature"
	"github.com/rushteam/cropkit/feedback"
	"github.com/rushteam/cropkit/pkg/dsl"
)

// 对外消息
const (
	UnitTonnes = "tonnes"

	msgModelNotLoaded     = "Model not loaded"
	msgRecommendNotLoaded = "Recommendation model not loaded"
	msgDataNotLoaded      = "Data not loaded"
	msgRecommendation     = "Recommended crop based on soil and environmental conditions"
)

// PredictionService 是产量预测与作物推荐服务。
//
// 无状态的请求/响应转换：制品在构造时传入，之后只读，可被并发请求共享。
// 缓存、预测日志、准入规则都是可选的，缓存和日志失败只打日志，不影响请求结果。
type PredictionService struct {
	artifacts *Artifacts
	cache     core.Store
	cacheTTL  int
	recorder  core.Recorder
	rules     *dsl.RuleSet
}

// Option 配置 PredictionService。
type Option func(*PredictionService)

// WithCache 启用预测结果缓存，ttl 单位为秒，<=0 表示不过期。
func WithCache(store core.Store, ttl int) Option {
	return func(s *PredictionService) {
		s.cache = store
		s.cacheTTL = ttl
	}
}

// WithRecorder 设置预测日志记录器。
func WithRecorder(r core.Recorder) Option {
	return func(s *PredictionService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithRules 设置准入规则。
func WithRules(rules *dsl.RuleSet) Option {
	return func(s *PredictionService) {
		s.rules = rules
	}
}

// NewPredictionService 创建预测服务。artifacts 为 nil 时所有操作返回 UNAVAILABLE。
func NewPredictionService(artifacts *Artifacts, opts ...Option) *PredictionService {
	if artifacts == nil {
		artifacts = &Artifacts{}
	}
	s := &PredictionService{
		artifacts: artifacts,
		recorder:  feedback.NopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PredictYield 预测产量。需要产量模型和 Label 编码器。
func (s *PredictionService) PredictYield(ctx context.Context, req *core.YieldRequest) (*core.YieldResponse, error) {
	a := s.artifacts
	if a.YieldModel == nil || a.Encoders == nil {
		return nil, core.NewUnavailableError(core.ModulePredict, msgModelNotLoaded)
	}
	if err := s.rules.Check(core.OpPredictYield, req.ToMap()); err != nil {
		return nil, err
	}

	features, err := feature.BuildYieldFeatures(a.Encoders, req.State, req.District, req.Season, req.Crop, req.Area)
	if err != nil {
		return nil, predictionError(core.StageFeature, err)
	}

	key := cacheKey(core.OpPredictYield, req)
	resp := &core.YieldResponse{}
	if !s.getCached(ctx, key, resp) {
		prediction, err := a.YieldModel.Predict(features)
		if err != nil {
			return nil, predictionError(core.StageModel, err)
		}
		resp = &core.YieldResponse{
			Prediction: prediction,
			Unit:       UnitTonnes,
			Message:    fmt.Sprintf("Predicted yield for %s in %s, %s", req.Crop, req.District, req.State),
		}
		s.setCached(ctx, key, resp)
	}

	s.record(ctx, feedback.NewYieldEvent(req, features, resp.Prediction))
	return resp, nil
}

// RecommendCrop 推荐作物。模型支持概率估计时置信度为最大类别概率，否则为 0。
func (s *PredictionService) RecommendCrop(ctx context.Context, req *core.RecommendRequest) (*core.RecommendResponse, error) {
	m := s.artifacts.RecommendModel
	if m == nil {
		return nil, core.NewUnavailableError(core.ModulePredict, msgRecommendNotLoaded)
	}
	if err := s.rules.Check(core.OpRecommendCrop, req.ToMap()); err != nil {
		return nil, err
	}

	features := feature.BuildRecommendationFeatures(
		req.Nitrogen, req.Phosphorus, req.Potassium,
		req.Temperature, req.Humidity, req.PH, req.Rainfall,
	)

	key := cacheKey(core.OpRecommendCrop, req)
	resp := &core.RecommendResponse{}
	if !s.getCached(ctx, key, resp) {
		crop, err := m.Predict(features)
		if err != nil {
			return nil, recommendationError(err)
		}
		confidence := 0.0
		if pe, ok := m.(core.ProbabilityEstimator); ok {
			proba, err := pe.PredictProba(features)
			if err != nil {
				return nil, recommendationError(err)
			}
			if len(proba) > 0 {
				confidence = math.Min(1, math.Max(0, floats.Max(proba)))
			}
		}
		resp = &core.RecommendResponse{
			RecommendedCrop: crop,
			Confidence:      confidence,
			Message:         msgRecommendation,
		}
		s.setCached(ctx, key, resp)
	}

	s.record(ctx, feedback.NewRecommendEvent(req, features, resp.RecommendedCrop, resp.Confidence))
	return resp, nil
}

// Options 返回表单下拉选项。需要数据集。
func (s *PredictionService) Options(ctx context.Context) (*core.Options, error) {
	if s.artifacts.Dataset == nil {
		return nil, core.NewUnavailableError(core.ModuleCatalog, msgDataNotLoaded)
	}
	opts := s.artifacts.Dataset.Options()
	return &opts, nil
}

// Health 返回各模型的加载情况，服务本身总是 healthy。
func (s *PredictionService) Health(ctx context.Context) *core.Health {
	a := s.artifacts
	return &core.Health{
		Status: "healthy",
		ModelsLoaded: map[string]bool{
			ArtifactYieldModel:     a.YieldModel != nil,
			ArtifactRecommendModel: a.RecommendModel != nil,
			ArtifactLabelEncoders:  a.Encoders != nil,
		},
	}
}

func predictionError(stage string, err error) error {
	return core.NewInvalidInputError(core.ModulePredict, stage, "Prediction error: "+err.Error(), err)
}

func recommendationError(err error) error {
	return core.NewInvalidInputError(core.ModulePredict, core.StageModel, "Recommendation error: "+err.Error(), err)
}

// cacheKey 形如 cropkit:predict_yield:<sha1(请求 JSON)>。
// 结构体序列化的字段顺序固定，相同请求得到相同 key。
func cacheKey(op string, req any) string {
	data, _ := json.Marshal(req)
	sum := sha1.Sum(data)
	return "cropkit:" + op + ":" + hex.EncodeToString(sum[:])
}

func (s *PredictionService) getCached(ctx context.Context, key string, out any) bool {
	if s.cache == nil {
		return false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !core.IsStoreNotFound(err) {
			log.Printf("[service] cache get %s from %s: %v", key, s.cache.Name(), err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Printf("[service] cache decode %s: %v", key, err)
		return false
	}
	return true
}

func (s *PredictionService) setCached(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[service] cache encode %s: %v", key, err)
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		log.Printf("[service] cache set %s to %s: %v", key, s.cache.Name(), err)
	}
}

func (s *PredictionService) record(ctx context.Context, event *core.PredictionEvent) {
	if err := s.recorder.Record(ctx, event); err != nil {
		log.Printf("[service] record %s %s: %v", event.Op, event.ID, err)
	}
}
