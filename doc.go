// Package cropkit 是一个作物产量预测与作物推荐服务（Crop Kit）。
//
// 设计要点：
// - Artifacts-first: 模型、编码器、数据集在启动时加载一次，之后只读；缺失时降级而不是退出
// - 特征顺序即契约: 特征向量顺序与训练时一致，制品记录的 feature_names 在加载时校验
// - 可选旁路: 缓存（memory/redis）、预测日志（kafka/postgres）、准入规则（CEL）都不影响主流程
package cropkit

import (
	"github.com/rushteam/cropkit/service"
)

// 轻量 facade：便于用户直接 import "cropkit" 使用核心抽象。
type (
	PredictionService = service.PredictionService
	Artifacts         = service.Artifacts
	ArtifactPaths     = service.ArtifactPaths
	Option            = service.Option
)

var (
	NewPredictionService = service.NewPredictionService
	LoadArtifacts        = service.LoadArtifacts
)
