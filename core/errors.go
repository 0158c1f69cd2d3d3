package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 对外只暴露两类错误：
//   - UNAVAILABLE：依赖的模型/编码器/数据集未加载
//   - INVALID_INPUT：特征构建、模型调用或准入规则失败
//
// Stage 用于区分 INVALID_INPUT 的具体来源（feature / model / rule），
// 便于排查问题，但不改变对外的错误类别。
type DomainError struct {
	Code    string // 错误代码（如 "UNAVAILABLE", "INVALID_INPUT"）
	Message string // 错误消息（直接返回给调用方）
	Module  string // 模块名称（如 "predict", "catalog", "store"）
	Stage   string // 失败阶段，仅 INVALID_INPUT 使用
	Cause   error  // 底层错误
}

func (e *DomainError) Error() string {
	return e.Message
}

// Unwrap 返回底层错误，支持 errors.Is / errors.As。
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// IsDomainError 检查错误是否为 DomainError 类型
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取 DomainError，如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// NewUnavailableError 创建 UNAVAILABLE 错误（依赖的制品未加载）。
func NewUnavailableError(module, message string) *DomainError {
	return NewDomainError(module, ErrorCodeUnavailable, message)
}

// NewInvalidInputError 创建 INVALID_INPUT 错误，message 为对外消息，cause 为底层错误。
func NewInvalidInputError(module, stage, message string, cause error) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    ErrorCodeInvalidInput,
		Message: message,
		Stage:   stage,
		Cause:   cause,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务不可用（制品未加载）
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误
)

// 模块名称常量
const (
	ModuleStore   = "store"   // 存储模块
	ModulePredict = "predict" // 预测模块
	ModuleCatalog = "catalog" // 选项目录模块
)

// INVALID_INPUT 的失败阶段
const (
	StageFeature = "feature" // 特征向量构建失败
	StageModel   = "model"   // 模型调用失败
	StageRule    = "rule"    // 准入规则拒绝
)

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	return hasCode(err, ErrorCodeNotFound)
}

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool {
	return hasCode(err, ErrorCodeUnavailable)
}

// IsInvalidInput 检查错误是否为 INVALID_INPUT
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrorCodeInvalidInput)
}

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}
