package core

// 模型的领域接口。
//
// 定义在领域层（core），由 model 包实现（随机森林回归/分类）。
// 模型在进程启动时加载一次，之后只读，可被并发请求共享。

// Regressor 是回归模型：输入定长特征向量，输出一个标量。
type Regressor interface {
	// Predict 单行预测
	Predict(features []float64) (float64, error)
}

// Classifier 是分类模型：输入定长特征向量，输出预测的类别标签。
type Classifier interface {
	// Predict 单行预测，返回类别标签
	Predict(features []float64) (string, error)
}

// ProbabilityEstimator 是支持概率估计的分类模型（可选能力）。
// 不实现此接口的分类模型，推荐置信度固定为 0。
type ProbabilityEstimator interface {
	Classifier

	// PredictProba 返回各类别概率，顺序与 Classes() 一致
	PredictProba(features []float64) ([]float64, error)

	// Classes 返回模型已知的类别标签
	Classes() []string
}
