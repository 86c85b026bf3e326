package firefighter

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReasonCode 原因代码策略：必填字段、时长上限、审批链与复核 SLA
type ReasonCode struct {
	Code                  string   `yaml:"code" json:"code"`
	Name                  string   `yaml:"name" json:"name"`
	RequiresTicket        bool     `yaml:"requires_ticket" json:"requiresTicket"`
	RequiresJustification bool     `yaml:"requires_justification" json:"requiresJustification"`
	MaxDurationMinutes    int      `yaml:"max_duration_minutes" json:"maxDurationMinutes"`
	ApprovalChain         []string `yaml:"approval_chain" json:"approvalChain"`
	ApprovalSLAHours      int      `yaml:"approval_sla_hours" json:"approvalSlaHours,omitempty"`
	ReviewSLAHours        int      `yaml:"review_sla_hours" json:"reviewSlaHours"`
	RequiresReview        *bool    `yaml:"requires_review" json:"requiresReview,omitempty"`
}

// MaxDuration 时长上限
func (r ReasonCode) MaxDuration() time.Duration {
	return time.Duration(r.MaxDurationMinutes) * time.Minute
}

// ReviewSLA 复核时限
func (r ReasonCode) ReviewSLA() time.Duration {
	return time.Duration(r.ReviewSLAHours) * time.Hour
}

// ReviewRequired 未显式配置时使用全局默认值
func (r ReasonCode) ReviewRequired(def bool) bool {
	if r.RequiresReview == nil {
		return def
	}
	return *r.RequiresReview
}

func (r ReasonCode) validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return fmt.Errorf("原因代码不能为空")
	}
	if r.MaxDurationMinutes <= 0 {
		return fmt.Errorf("原因代码 %s 的 max_duration_minutes 必须大于 0", r.Code)
	}
	if len(r.ApprovalChain) == 0 {
		return fmt.Errorf("原因代码 %s 缺少审批链", r.Code)
	}
	if r.ReviewSLAHours <= 0 {
		return fmt.Errorf("原因代码 %s 的 review_sla_hours 必须大于 0", r.Code)
	}
	return nil
}

// Catalog 原因代码查询
type Catalog interface {
	Lookup(code string) (ReasonCode, bool)
	Codes() []ReasonCode
}

// StaticCatalog 进程级只读原因代码表
type StaticCatalog struct {
	codes map[string]ReasonCode
}

// NewStaticCatalog 创建原因代码表
func NewStaticCatalog(codes ...ReasonCode) (*StaticCatalog, error) {
	c := &StaticCatalog{codes: make(map[string]ReasonCode, len(codes))}
	for _, rc := range codes {
		if err := rc.validate(); err != nil {
			return nil, err
		}
		key := strings.ToUpper(strings.TrimSpace(rc.Code))
		if _, dup := c.codes[key]; dup {
			return nil, fmt.Errorf("原因代码重复: %s", rc.Code)
		}
		rc.Code = key
		c.codes[key] = rc
	}
	return c, nil
}

// Lookup 按代码查询（大小写不敏感）
func (c *StaticCatalog) Lookup(code string) (ReasonCode, bool) {
	rc, ok := c.codes[strings.ToUpper(strings.TrimSpace(code))]
	return rc, ok
}

// Codes 按代码排序返回全部条目
func (c *StaticCatalog) Codes() []ReasonCode {
	out := make([]ReasonCode, 0, len(c.codes))
	for _, rc := range c.codes {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ActionCatalog 受限操作码与敏感对象清单
type ActionCatalog struct {
	restricted       map[string]struct{}
	sensitiveObjects []string
}

// NewActionCatalog 创建操作分类清单；敏感对象以 * 结尾表示前缀匹配
func NewActionCatalog(restricted, sensitiveObjects []string) *ActionCatalog {
	c := &ActionCatalog{restricted: make(map[string]struct{}, len(restricted))}
	for _, code := range restricted {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			c.restricted[code] = struct{}{}
		}
	}
	for _, obj := range sensitiveObjects {
		obj = strings.ToUpper(strings.TrimSpace(obj))
		if obj != "" {
			c.sensitiveObjects = append(c.sensitiveObjects, obj)
		}
	}
	return c
}

// IsRestricted 操作码是否在受限清单
func (c *ActionCatalog) IsRestricted(actionCode string) bool {
	_, ok := c.restricted[strings.ToUpper(strings.TrimSpace(actionCode))]
	return ok
}

// IsSensitiveObject 目标对象是否敏感
func (c *ActionCatalog) IsSensitiveObject(object string) bool {
	object = strings.ToUpper(strings.TrimSpace(object))
	if object == "" {
		return false
	}
	for _, pattern := range c.sensitiveObjects {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			if strings.HasPrefix(object, prefix) {
				return true
			}
			continue
		}
		if object == pattern {
			return true
		}
	}
	return false
}

// Policy 启动时加载一次的全局策略
type Policy struct {
	Reasons Catalog
	Actions *ActionCatalog
}

type policyFile struct {
	ReasonCodes       []ReasonCode `yaml:"reason_codes"`
	RestrictedActions []string     `yaml:"restricted_actions"`
	SensitiveObjects  []string     `yaml:"sensitive_objects"`
}

// LoadPolicyFile 从 YAML 文件加载策略；文件中缺省的部分使用内置默认值
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取策略文件失败: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy 解析 YAML 策略
func ParsePolicy(data []byte) (*Policy, error) {
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("解析策略文件失败: %w", err)
	}

	reasons := pf.ReasonCodes
	if len(reasons) == 0 {
		reasons = defaultReasonCodes()
	}
	catalog, err := NewStaticCatalog(reasons...)
	if err != nil {
		return nil, err
	}

	restricted := pf.RestrictedActions
	if len(restricted) == 0 {
		restricted = defaultRestrictedActions
	}
	sensitive := pf.SensitiveObjects
	if len(sensitive) == 0 {
		sensitive = defaultSensitiveObjects
	}
	return &Policy{Reasons: catalog, Actions: NewActionCatalog(restricted, sensitive)}, nil
}

// DefaultPolicy 内置策略
func DefaultPolicy() *Policy {
	catalog, err := NewStaticCatalog(defaultReasonCodes()...)
	if err != nil {
		panic(err)
	}
	return &Policy{
		Reasons: catalog,
		Actions: NewActionCatalog(defaultRestrictedActions, defaultSensitiveObjects),
	}
}

func defaultReasonCodes() []ReasonCode {
	return []ReasonCode{
		{
			Code: "PROD_INCIDENT", Name: "生产故障处理",
			RequiresTicket: true, RequiresJustification: true,
			MaxDurationMinutes: 240, ApprovalChain: []string{"manager"}, ReviewSLAHours: 24,
		},
		{
			Code: "DATA_CORRECTION", Name: "数据修正",
			RequiresTicket: true, RequiresJustification: true,
			MaxDurationMinutes: 120, ApprovalChain: []string{"manager", "data_owner"}, ReviewSLAHours: 48,
		},
		{
			Code: "PERIOD_END", Name: "期末结账支持",
			RequiresJustification: true,
			MaxDurationMinutes: 480, ApprovalChain: []string{"finance_controller"}, ReviewSLAHours: 72,
		},
		{
			Code: "SECURITY_INCIDENT", Name: "安全事件响应",
			RequiresTicket: true, RequiresJustification: true,
			MaxDurationMinutes: 120, ApprovalChain: []string{"security_officer"}, ReviewSLAHours: 8,
		},
		{
			Code: "AUDIT_SUPPORT", Name: "审计配合",
			RequiresJustification: true,
			MaxDurationMinutes: 240, ApprovalChain: []string{"manager"}, ReviewSLAHours: 72,
		},
	}
}

var defaultRestrictedActions = []string{
	"SU01", "SU10", "PFCG", "SCC4", "SE16N_EDIT", "SM49", "SM69",
	"RZ10", "STMS_IMPORT", "SE38_EXEC", "SM59", "AUDIT_LOG_DELETE",
}

var defaultSensitiveObjects = []string{
	"USR02", "T000", "LFBK", "KNBK", "PA0008", "PAYROLL*", "BANK_*", "AGR_*",
}
