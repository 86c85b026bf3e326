package evidence

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/audit"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/internal/metrics"
	"github.com/prasantk47/governexplus-sub004/pkg/canonical"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Format 导出格式
type Format string

const (
	// FormatStructured 完整嵌套的证据对象
	FormatStructured Format = "structured"
	// FormatTabular 活动记录展开为表格
	FormatTabular Format = "tabular"
)

// Export 导出结果
type Export struct {
	Content       []byte `json:"-"`
	ContentType   string `json:"contentType"`
	Filename      string `json:"filename"`
	IntegrityHash string `json:"integrityHash"`
	RecordID      string `json:"recordId"`
}

// Exporter 导出证据并登记
type Exporter struct {
	compiler *Compiler
	db       *gorm.DB
	audit    firefighter.AuditRecorder
	logger   *zap.Logger
}

// NewExporter 创建导出器；audit 为空时不写审计轨迹
func NewExporter(compiler *Compiler, audit firefighter.AuditRecorder) *Exporter {
	if audit == nil {
		audit = firefighter.NopAuditRecorder{}
	}
	return &Exporter{compiler: compiler, db: compiler.db, audit: audit, logger: compiler.logger}
}

// Export 按格式导出会话证据，两种格式共用同一个证据对象和哈希
func (e *Exporter) Export(ctx context.Context, sessionID string, format Format, actor string) (*Export, error) {
	var render func(*Evidence) ([]byte, string, string, error)
	switch format {
	case FormatStructured, "":
		format = FormatStructured
		render = renderStructured
	case FormatTabular:
		render = renderTabular
	default:
		return nil, firefighter.Validationf("不支持的导出格式: %s", format)
	}

	ev, err := e.compiler.Compile(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	content, contentType, ext, err := render(ev)
	if err != nil {
		return nil, fmt.Errorf("生成证据文件失败: %w", err)
	}
	snapshot, err := canonical.Marshal(ev.Body)
	if err != nil {
		return nil, fmt.Errorf("序列化证据失败: %w", err)
	}

	rec := &firefighter.EvidenceRecord{
		ID:            firefighter.NewID(firefighter.PrefixEvidence, ev.GeneratedAt),
		SessionID:     sessionID,
		Format:        string(format),
		Filename:      fmt.Sprintf("ff_evidence_%s_%s.%s", sessionID, ev.GeneratedAt.UTC().Format("20060102_150405"), ext),
		IntegrityHash: ev.IntegrityHash,
		Snapshot:      datatypes.JSON(snapshot),
		GeneratedBy:   actor,
		GeneratedAt:   ev.GeneratedAt,
	}
	if err := e.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("登记证据导出失败: %w", err)
	}

	metrics.EvidenceExports.WithLabelValues(string(format)).Inc()
	e.audit.Record(ctx, audit.EventEvidenceExport, sessionID, actor, map[string]any{
		"record_id":      rec.ID,
		"format":         string(format),
		"integrity_hash": ev.IntegrityHash,
	})
	logger.WithContext(ctx, e.logger).Info("已导出证据包",
		zap.String("session_id", sessionID),
		zap.String("format", string(format)),
		zap.String("integrity_hash", ev.IntegrityHash),
	)

	return &Export{
		Content:       content,
		ContentType:   contentType,
		Filename:      rec.Filename,
		IntegrityHash: ev.IntegrityHash,
		RecordID:      rec.ID,
	}, nil
}

// Records 会话的导出登记
func (e *Exporter) Records(ctx context.Context, sessionID string) ([]firefighter.EvidenceRecord, error) {
	var records []firefighter.EvidenceRecord
	err := e.db.WithContext(ctx).
		Select("id", "session_id", "format", "filename", "integrity_hash", "generated_by", "generated_at").
		Where("session_id = ?", sessionID).
		Order("generated_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询证据登记失败: %w", err)
	}
	return records, nil
}

func renderStructured(ev *Evidence) ([]byte, string, string, error) {
	data, err := canonical.Marshal(ev)
	if err != nil {
		return nil, "", "", err
	}
	return data, "application/json; charset=utf-8", "json", nil
}

var tabularHeader = []string{
	"session_id", "activity_id", "occurred_at", "logged_at", "action_code", "action_type",
	"target_object", "description", "risk_level", "is_sensitive", "is_restricted", "integrity_hash",
}

func renderTabular(ev *Evidence) ([]byte, string, string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(tabularHeader); err != nil {
		return nil, "", "", err
	}
	for _, a := range ev.Activities {
		row := []string{
			ev.SessionID,
			a.ID,
			a.OccurredAt.UTC().Format(time.RFC3339Nano),
			a.LoggedAt.UTC().Format(time.RFC3339Nano),
			a.ActionCode,
			a.ActionType,
			a.TargetObject,
			a.Description,
			string(a.RiskLevel),
			strconv.FormatBool(a.IsSensitive),
			strconv.FormatBool(a.IsRestricted),
			ev.IntegrityHash,
		}
		if err := w.Write(row); err != nil {
			return nil, "", "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", "", err
	}
	return buf.Bytes(), "text/csv; charset=utf-8", "csv", nil
}
