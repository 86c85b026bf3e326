package approval

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// DefaultDualApprovalRule 风险达到阈值或审批链多于一个角色时需要双人审批
const DefaultDualApprovalRule = "risk_score >= threshold || chain_length > 1"

// DualApprovalRule 双人审批判定表达式
//
// 可用变量：risk_score、threshold、chain_length、priority、requested_minutes。
type DualApprovalRule struct {
	source     string
	expression *govaluate.EvaluableExpression
	threshold  int
}

// NewDualApprovalRule 编译判定表达式
func NewDualApprovalRule(expr string, threshold int) (*DualApprovalRule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultDualApprovalRule
	}
	expression, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("解析双人审批规则失败: %w", err)
	}
	return &DualApprovalRule{source: expr, expression: expression, threshold: threshold}, nil
}

// String 原始表达式
func (r *DualApprovalRule) String() string {
	return r.source
}

// RuleInput 判定输入
type RuleInput struct {
	RiskScore        int
	ChainLength      int
	Priority         string
	RequestedMinutes int
}

// Requires 是否需要双人审批
func (r *DualApprovalRule) Requires(in RuleInput) (bool, error) {
	parameters := map[string]interface{}{
		"risk_score":        float64(in.RiskScore),
		"threshold":         float64(r.threshold),
		"chain_length":      float64(in.ChainLength),
		"priority":          in.Priority,
		"requested_minutes": float64(in.RequestedMinutes),
	}
	result, err := r.expression.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("评估双人审批规则失败: %w", err)
	}
	if b, ok := result.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("双人审批规则结果不是布尔值: %v", result)
}
