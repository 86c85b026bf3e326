package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ExportFormat 导出格式
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ExportResult 导出结果
type ExportResult struct {
	Data        []byte `json:"data,omitempty"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	TotalCount  int    `json:"totalCount"`
}

// Export 导出审计轨迹，供审计人员离线核对哈希链
func (t *Trail) Export(ctx context.Context, f Filter, format ExportFormat) (*ExportResult, error) {
	entries, err := t.Query(ctx, f)
	if err != nil {
		return nil, err
	}

	timestamp := t.now().Format("20060102_150405")
	switch format {
	case FormatCSV:
		return exportCSV(entries, timestamp)
	default:
		return exportJSON(entries, timestamp)
	}
}

func exportCSV(entries []Entry, timestamp string) (*ExportResult, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"序号", "事件", "分类", "对象ID", "操作人", "详情", "发生时间", "前序哈希", "哈希"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}

	for _, e := range entries {
		details := ""
		if len(e.Details) > 0 {
			if b, err := json.Marshal(e.Details); err == nil {
				details = string(b)
			}
		}
		row := []string{
			strconv.FormatInt(e.Seq, 10),
			e.Event,
			string(e.Category),
			e.SubjectID,
			e.Actor,
			details,
			e.OccurredAt.UTC().Format(time.RFC3339Nano),
			e.PrevHash,
			e.Hash,
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	return &ExportResult{
		Data:        buf.Bytes(),
		Filename:    fmt.Sprintf("audit_trail_%s.csv", timestamp),
		ContentType: "text/csv; charset=utf-8",
		TotalCount:  len(entries),
	}, nil
}

func exportJSON(entries []Entry, timestamp string) (*ExportResult, error) {
	data, err := json.MarshalIndent(struct {
		TotalCount int     `json:"totalCount"`
		Entries    []Entry `json:"entries"`
	}{TotalCount: len(entries), Entries: entries}, "", "  ")
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		Data:        data,
		Filename:    fmt.Sprintf("audit_trail_%s.json", timestamp),
		ContentType: "application/json; charset=utf-8",
		TotalCount:  len(entries),
	}, nil
}
