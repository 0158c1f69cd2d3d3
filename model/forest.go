package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/rushteam/cropkit/core"
)

// leafNode 是叶子节点的子节点标记（与 scikit-learn 的 TREE_LEAF 一致）。
const leafNode = -1

// Tree 是一棵 CART 决策树，字段与 scikit-learn 的 estimator.tree_ 数组一一对应：
//
//	children_left / children_right：子节点下标，叶子为 -1
//	feature / threshold：分裂特征与阈值，x[feature] <= threshold 走左子树
//	value：每个节点的输出（回归为 [均值]，分类为各类别样本数或比例）
//
// 节点 0 为根节点，子节点下标总是大于父节点。
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

// validate 检查树结构，保证 leaf() 不会越界也不会死循环。
func (t *Tree) validate(numFeatures, outputDim int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return errors.New("empty tree")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("inconsistent node arrays (%d nodes)", n)
	}
	for i := 0; i < n; i++ {
		left, right := t.ChildrenLeft[i], t.ChildrenRight[i]
		if left == leafNode {
			if len(t.Value[i]) != outputDim {
				return fmt.Errorf("node %d: value has %d entries, expected %d", i, len(t.Value[i]), outputDim)
			}
			continue
		}
		if left <= i || left >= n || right <= i || right >= n {
			return fmt.Errorf("node %d: invalid children (%d, %d)", i, left, right)
		}
		if f := t.Feature[i]; f < 0 || f >= numFeatures {
			return fmt.Errorf("node %d: feature index %d out of range [0, %d)", i, f, numFeatures)
		}
	}
	return nil
}

// leaf 从根节点走到叶子，返回叶子下标。
// 特征值先转为 float32 再比较，与 scikit-learn 推理时的数值精度一致。
func (t *Tree) leaf(x []float64) int {
	node := 0
	for t.ChildrenLeft[node] != leafNode {
		if float64(float32(x[t.Feature[node]])) <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return node
}

// checkInput 校验输入维度以及数值是否可以表示为 float32。
func checkInput(x []float64, numFeatures int) error {
	if len(x) != numFeatures {
		return fmt.Errorf("X has %d features, but model is expecting %d features as input", len(x), numFeatures)
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(float64(float32(v)), 0) {
			return fmt.Errorf("input contains NaN, infinity or a value too large for float32 at feature %d", i)
		}
	}
	return nil
}

// RandomForestRegressor 随机森林回归：预测值为所有树叶子输出的平均值。
type RandomForestRegressor struct {
	NumFeatures  int
	FeatureNames []string
	Trees        []Tree
}

// NewRandomForestRegressor 创建随机森林回归模型并校验树结构。
func NewRandomForestRegressor(numFeatures int, featureNames []string, trees []Tree) (*RandomForestRegressor, error) {
	if err := validateForest(numFeatures, featureNames, trees, 1); err != nil {
		return nil, err
	}
	return &RandomForestRegressor{NumFeatures: numFeatures, FeatureNames: featureNames, Trees: trees}, nil
}

func (m *RandomForestRegressor) Name() string { return TypeRandomForestRegressor }

// Predict 单行预测。
func (m *RandomForestRegressor) Predict(x []float64) (float64, error) {
	if err := checkInput(x, m.NumFeatures); err != nil {
		return 0, err
	}
	outputs := make([]float64, len(m.Trees))
	for i := range m.Trees {
		t := &m.Trees[i]
		outputs[i] = t.Value[t.leaf(x)][0]
	}
	return floats.Sum(outputs) / float64(len(outputs)), nil
}

// RandomForestClassifier 随机森林分类：
// 概率为各棵树叶子节点类别分布（归一化后）的平均值，预测为概率最大的类别。
type RandomForestClassifier struct {
	NumFeatures  int
	FeatureNames []string
	Trees        []Tree

	classes []string
}

// NewRandomForestClassifier 创建随机森林分类模型并校验树结构。
func NewRandomForestClassifier(numFeatures int, featureNames, classes []string, trees []Tree) (*RandomForestClassifier, error) {
	if len(classes) == 0 {
		return nil, errors.New("classifier has no classes")
	}
	if err := validateForest(numFeatures, featureNames, trees, len(classes)); err != nil {
		return nil, err
	}
	return &RandomForestClassifier{
		NumFeatures:  numFeatures,
		FeatureNames: featureNames,
		Trees:        trees,
		classes:      append([]string(nil), classes...),
	}, nil
}

func (m *RandomForestClassifier) Name() string { return TypeRandomForestClassifier }

// Classes 返回类别标签（副本），顺序与 PredictProba 的输出一致。
func (m *RandomForestClassifier) Classes() []string {
	return append([]string(nil), m.classes...)
}

// PredictProba 返回各类别的概率，和为 1。
func (m *RandomForestClassifier) PredictProba(x []float64) ([]float64, error) {
	if err := checkInput(x, m.NumFeatures); err != nil {
		return nil, err
	}
	proba := make([]float64, len(m.classes))
	for i := range m.Trees {
		t := &m.Trees[i]
		dist := t.Value[t.leaf(x)]
		total := floats.Sum(dist)
		if total <= 0 {
			continue
		}
		floats.AddScaled(proba, 1/total, dist)
	}
	floats.Scale(1/float64(len(m.Trees)), proba)
	return proba, nil
}

// Predict 返回概率最大的类别，概率相同时取下标最小的类别。
func (m *RandomForestClassifier) Predict(x []float64) (string, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return "", err
	}
	return m.classes[floats.MaxIdx(proba)], nil
}

func validateForest(numFeatures int, featureNames []string, trees []Tree, outputDim int) error {
	if numFeatures <= 0 {
		return fmt.Errorf("invalid n_features %d", numFeatures)
	}
	if len(featureNames) > 0 && len(featureNames) != numFeatures {
		return fmt.Errorf("feature_names has %d entries, n_features is %d", len(featureNames), numFeatures)
	}
	if len(trees) == 0 {
		return errors.New("forest has no trees")
	}
	for i := range trees {
		if err := trees[i].validate(numFeatures, outputDim); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

var (
	_ core.Regressor            = (*RandomForestRegressor)(nil)
	_ core.ProbabilityEstimator = (*RandomForestClassifier)(nil)
)
