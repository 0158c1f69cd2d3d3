package service

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/cropkit/catalog"
	"github.com/rushteam/cropkit/core"
	"github.com/rushteam/cropkit/feature"
	"github.com/rushteam/cropkit/model"
)

// 制品名称（用于加载报告与健康检查）。
const (
	ArtifactYieldModel     = "crop_yield"
	ArtifactRecommendModel = "crop_recommendation"
	ArtifactLabelEncoders  = "label_encoders"
	ArtifactDataset        = "crop_data"
)

// Artifacts 是进程启动时加载的全部制品，加载后只读。
// 任一字段为 nil 表示该制品未加载（降级模式），依赖它的操作返回 UNAVAILABLE。
type Artifacts struct {
	YieldModel     core.Regressor
	Encoders       *feature.LabelEncoder
	RecommendModel core.Classifier
	Dataset        *catalog.Dataset
}

// ArtifactPaths 各制品的文件路径。
type ArtifactPaths struct {
	YieldModel     string
	LabelEncoders  string
	RecommendModel string
	Dataset        string
}

// 加载状态
const (
	StatusLoaded  = "loaded"
	StatusMissing = "missing"
	StatusFailed  = "failed"
)

// ArtifactStatus 单个制品的加载结果。
type ArtifactStatus struct {
	Name   string
	Path   string
	Status string
	Err    error
}

// LoadReport 记录每个制品的加载结果。
type LoadReport struct {
	mu      sync.Mutex
	entries map[string]ArtifactStatus
}

func (r *LoadReport) set(s ArtifactStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string]ArtifactStatus)
	}
	r.entries[s.Name] = s
}

// Get 返回某个制品的加载结果。
func (r *LoadReport) Get(name string) (ArtifactStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[name]
	return s, ok
}

// Entries 按名称排序返回全部加载结果。
func (r *LoadReport) Entries() []ArtifactStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ArtifactStatus, 0, len(r.entries))
	for _, s := range r.entries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// String 单行摘要，例如 "crop_data=loaded crop_yield=missing ..."。
func (r *LoadReport) String() string {
	parts := make([]string, 0, 4)
	for _, s := range r.Entries() {
		parts = append(parts, s.Name+"="+s.Status)
	}
	return strings.Join(parts, " ")
}

// LoadArtifacts 并发加载四个制品。
// 文件不存在或加载失败都不会返回错误：对应字段保持 nil，原因记录在 LoadReport（由 LogReport 打印）。
func LoadArtifacts(ctx context.Context, paths ArtifactPaths) (*Artifacts, *LoadReport) {
	var (
		a      = &Artifacts{}
		report = &LoadReport{}
		eg, _  = errgroup.WithContext(ctx)
	)

	load := func(name, path string, fn func(path string) error) {
		eg.Go(func() error {
			status := ArtifactStatus{Name: name, Path: path, Status: StatusLoaded}
			if _, err := os.Stat(path); err != nil {
				status.Status = StatusMissing
				status.Err = err
			} else if err := fn(path); err != nil {
				status.Status = StatusFailed
				status.Err = err
			}
			report.set(status)
			return nil
		})
	}

	load(ArtifactYieldModel, paths.YieldModel, func(path string) error {
		m, err := model.LoadRandomForestRegressor(path)
		if err != nil {
			return err
		}
		if err := feature.CheckColumns(feature.YieldColumns, m.FeatureNames); err != nil {
			return err
		}
		a.YieldModel = m
		return nil
	})
	load(ArtifactLabelEncoders, paths.LabelEncoders, func(path string) error {
		enc, err := feature.LoadLabelEncoder(path)
		if err != nil {
			return err
		}
		a.Encoders = enc
		return nil
	})
	load(ArtifactRecommendModel, paths.RecommendModel, func(path string) error {
		m, err := model.LoadRandomForestClassifier(path)
		if err != nil {
			return err
		}
		if err := feature.CheckColumns(feature.RecommendationColumns, m.FeatureNames); err != nil {
			return err
		}
		a.RecommendModel = m
		return nil
	})
	load(ArtifactDataset, paths.Dataset, func(path string) error {
		d, err := catalog.LoadCropDataset(path)
		if err != nil {
			return err
		}
		a.Dataset = d
		return nil
	})

	// 所有 goroutine 都返回 nil
	_ = eg.Wait()
	return a, report
}

// LogReport 打印加载报告。
func LogReport(report *LoadReport) {
	for _, s := range report.Entries() {
		switch s.Status {
		case StatusLoaded:
			log.Printf("[artifacts] %s loaded from %s", s.Name, s.Path)
		default:
			log.Printf("[artifacts] %s %s (%s): %v", s.Name, s.Status, s.Path, s.Err)
		}
	}
}
