package dsl

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/cropkit/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("req", cel.DynType),
		cel.Variable("op", cel.StringType),
	)
}

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Rule 是一条准入规则。表达式使用 CEL (Common Expression Language) 语法，
// 返回 true 表示放行，false 表示拒绝并返回 Message。
//
// 可用变量：
//   - req：请求字段（map），例如 req.area、req.crop、req.ph
//   - op：操作名称，"predict_yield" 或 "recommend_crop"
//
// 示例：
//   - `op != "predict_yield" || req.area > 0.0` → 产量预测要求面积为正
//   - `op != "recommend_crop" || (req.ph >= 0.0 && req.ph <= 14.0)` → pH 在 0~14
//
// 数值字段均为 double，比较时请使用浮点字面量（0.0 而不是 0）。
type Rule struct {
	Name    string `yaml:"name" json:"name"`
	Expr    string `yaml:"expr" json:"expr"`
	Message string `yaml:"message" json:"message"`
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// RuleSet 是编译好的规则集合，可被并发使用。
type RuleSet struct {
	rules []compiledRule
}

// Compile 编译规则，任何一条编译失败都返回错误（启动时失败）。
func Compile(rules []Rule) (*RuleSet, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	rs := &RuleSet{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.Expr == "" {
			return nil, fmt.Errorf("rule %d (%s): empty expr", i, r.Name)
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %d (%s): compile error: %w", i, r.Name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): program error: %w", i, r.Name, err)
		}
		rs.rules = append(rs.rules, compiledRule{Rule: r, prg: prg})
	}
	return rs, nil
}

// Len 返回规则数量。
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Check 按顺序执行规则，第一条不通过的规则返回 INVALID_INPUT（Stage=rule）。
// 求值出错（例如访问不存在的字段）同样视为拒绝。
func (rs *RuleSet) Check(op string, req map[string]any) error {
	if rs.Len() == 0 {
		return nil
	}
	input := map[string]any{
		"req": req,
		"op":  op,
	}
	for _, r := range rs.rules {
		ok, err := r.eval(input)
		if err != nil {
			return core.NewInvalidInputError(core.ModulePredict, core.StageRule,
				fmt.Sprintf("rule %s: %v", r.Name, err), err)
		}
		if !ok {
			msg := r.Message
			if msg == "" {
				msg = fmt.Sprintf("rejected by rule %s", r.Name)
			}
			return core.NewInvalidInputError(core.ModulePredict, core.StageRule, msg, nil)
		}
	}
	return nil
}

func (r *compiledRule) eval(input map[string]any) (bool, error) {
	out, _, err := r.prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("expression must return boolean")
	}
	return result, nil
}
