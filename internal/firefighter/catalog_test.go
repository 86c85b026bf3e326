package firefighter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	rc, ok := p.Reasons.Lookup("prod_incident")
	require.True(t, ok)
	require.True(t, rc.RequiresTicket)
	require.Equal(t, 4*time.Hour, rc.MaxDuration())
	require.Equal(t, 24*time.Hour, rc.ReviewSLA())
	require.True(t, rc.ReviewRequired(true))
	require.False(t, rc.ReviewRequired(false))

	_, ok = p.Reasons.Lookup("UNKNOWN")
	require.False(t, ok)

	codes := p.Reasons.Codes()
	require.NotEmpty(t, codes)
	for i := 1; i < len(codes); i++ {
		require.Less(t, codes[i-1].Code, codes[i].Code)
	}

	require.True(t, p.Actions.IsRestricted("su01"))
	require.False(t, p.Actions.IsRestricted("VA03"))
	require.True(t, p.Actions.IsSensitiveObject("usr02"))
	require.True(t, p.Actions.IsSensitiveObject("PAYROLL_RUN_2026"))
	require.False(t, p.Actions.IsSensitiveObject("MARA"))
	require.False(t, p.Actions.IsSensitiveObject(""))
}

func TestParsePolicy(t *testing.T) {
	data := []byte(`
reason_codes:
  - code: hotfix
    name: Hotfix
    requires_ticket: true
    max_duration_minutes: 60
    approval_chain: [manager]
    review_sla_hours: 12
    requires_review: false
restricted_actions: [DROP_TABLE]
`)
	p, err := ParsePolicy(data)
	require.NoError(t, err)

	rc, ok := p.Reasons.Lookup("HOTFIX")
	require.True(t, ok)
	require.Equal(t, "HOTFIX", rc.Code)
	require.False(t, rc.ReviewRequired(true))

	require.True(t, p.Actions.IsRestricted("drop_table"))
	require.False(t, p.Actions.IsRestricted("SU01"))
	// 未配置时沿用默认敏感对象
	require.True(t, p.Actions.IsSensitiveObject("USR02"))
}

func TestParsePolicyRejectsInvalid(t *testing.T) {
	_, err := ParsePolicy([]byte("reason_codes:\n  - code: X\n    max_duration_minutes: 0\n    approval_chain: [a]\n    review_sla_hours: 1\n"))
	require.Error(t, err)

	_, err = ParsePolicy([]byte("reason_codes:\n  - code: X\n    max_duration_minutes: 10\n    review_sla_hours: 1\n"))
	require.Error(t, err)

	_, err = ParsePolicy([]byte("reason_codes: [unclosed"))
	require.Error(t, err)
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("restricted_actions: [X1]\n"), 0o600))
	p, err := LoadPolicyFile(path)
	require.NoError(t, err)
	require.True(t, p.Actions.IsRestricted("X1"))
	_, ok := p.Reasons.Lookup("PROD_INCIDENT")
	require.True(t, ok)

	_, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDuplicateReasonCode(t *testing.T) {
	rc := ReasonCode{Code: "A", MaxDurationMinutes: 10, ApprovalChain: []string{"m"}, ReviewSLAHours: 1}
	_, err := NewStaticCatalog(rc, rc)
	require.Error(t, err)
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindValidation, KindOf(Validationf("missing %s", "ticket")))
	require.Equal(t, KindConflict, KindOf(Conflictf("dup")))
	require.Equal(t, KindNotFound, KindOf(fmt.Errorf("wrap: %w", NotFoundf("x"))))
	require.Equal(t, KindPermission, KindOf(Permissionf("x")))
	require.Equal(t, KindInvalidState, KindOf(InvalidStatef("x")))
	require.Equal(t, KindLimitExceeded, KindOf(LimitExceededf("x")))
	require.Equal(t, KindProvisioning, KindOf(fmt.Errorf("%w: unlock", ErrProvisioning)))
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
	require.Equal(t, Kind(""), KindOf(nil))
}

func TestNewIDFormat(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 30, 15, 0, time.UTC)
	id := NewID(PrefixSession, now)
	parts := strings.Split(id, "-")
	require.Len(t, parts, 3)
	require.Equal(t, "FFS", parts[0])
	require.Equal(t, "20261018093015", parts[1])
	require.Len(t, parts[2], 12)
	require.NotEqual(t, id, NewID(PrefixSession, now))
}

func TestShippedPolicyFile(t *testing.T) {
	p, err := LoadPolicyFile(filepath.Join("..", "..", "config", "policy.yaml"))
	require.NoError(t, err)
	require.Len(t, p.Reasons.Codes(), 5)

	rc, ok := p.Reasons.Lookup("AUDIT_SUPPORT")
	require.True(t, ok)
	require.False(t, rc.ReviewRequired(true))

	sec, ok := p.Reasons.Lookup("SECURITY_INCIDENT")
	require.True(t, ok)
	require.Equal(t, 1, sec.ApprovalSLAHours)
	require.True(t, p.Actions.IsRestricted("su01"))
}
