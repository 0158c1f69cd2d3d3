package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// 模型制品类型（JSON 中的 model_type 字段）。
const (
	TypeRandomForestRegressor  = "random_forest_regressor"
	TypeRandomForestClassifier = "random_forest_classifier"
)

// forestFile 是随机森林的 JSON 导出格式，由离线训练脚本从 scikit-learn 模型导出：
//
//	{
//	  "model_type": "random_forest_regressor",
//	  "n_features": 5,
//	  "feature_names": ["State_Name", "District_Name", "Season", "Crop", "Area"],
//	  "classes": ["apple", "banana", ...],      // 仅分类模型
//	  "trees": [{"children_left": [...], "children_right": [...],
//	             "feature": [...], "threshold": [...], "value": [[...], ...]}]
//	}
type forestFile struct {
	ModelType    string   `json:"model_type"`
	NumFeatures  int      `json:"n_features"`
	FeatureNames []string `json:"feature_names,omitempty"`
	Classes      []string `json:"classes,omitempty"`
	Trees        []Tree   `json:"trees"`
}

func readForestFile(path, wantType string) (*forestFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var f forestFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if f.ModelType != wantType {
		return nil, fmt.Errorf("model_type %q, expected %q", f.ModelType, wantType)
	}
	return &f, nil
}

// LoadRandomForestRegressor 从 JSON 文件加载随机森林回归模型。
func LoadRandomForestRegressor(path string) (*RandomForestRegressor, error) {
	f, err := readForestFile(path, TypeRandomForestRegressor)
	if err != nil {
		return nil, err
	}
	return NewRandomForestRegressor(f.NumFeatures, f.FeatureNames, f.Trees)
}

// LoadRandomForestClassifier 从 JSON 文件加载随机森林分类模型。
func LoadRandomForestClassifier(path string) (*RandomForestClassifier, error) {
	f, err := readForestFile(path, TypeRandomForestClassifier)
	if err != nil {
		return nil, err
	}
	return NewRandomForestClassifier(f.NumFeatures, f.FeatureNames, f.Classes, f.Trees)
}
