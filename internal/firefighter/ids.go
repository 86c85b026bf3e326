package firefighter

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// 标识前缀
const (
	PrefixRequest   = "FFR"
	PrefixDecision  = "FFD"
	PrefixSession   = "FFS"
	PrefixExtension = "FFE"
	PrefixActivity  = "FFA"
	PrefixAlert     = "FFL"
	PrefixReview    = "FFV"
	PrefixEvidence  = "FFX"
)

// NewID 生成 <PREFIX>-<timestamp>-<random> 格式的可排序标识
func NewID(prefix string, now time.Time) string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return prefix + "-" + now.UTC().Format("20060102150405") + "-" + random
}

// Clock 时间源，测试中可替换
type Clock func() time.Time

// SystemClock 返回 UTC 当前时间
func SystemClock() time.Time {
	return time.Now().UTC()
}
