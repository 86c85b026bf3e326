package lease

import (
	"context"
	"fmt"

	"github.com/prasantk47/governexplus-sub004/internal/firefighter"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecordActivity 追加一条活动记录并累加会话计数器
//
// 活动记录是尽力而为的旁路日志：不检查时间顺序，也不拒绝已结束会话的迟到记录。
// 计数器用 SQL 自增更新，并发写入不会互相覆盖。
func (m *Manager) RecordActivity(ctx context.Context, rec *firefighter.ActivityRecord) (*firefighter.Session, error) {
	now := m.now()
	if rec.ID == "" {
		rec.ID = firefighter.NewID(firefighter.PrefixActivity, now)
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = now
	}
	rec.LoggedAt = now
	if rec.Details == nil {
		rec.Details = datatypes.JSONMap{}
	}

	var s *firefighter.Session
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if s, err = m.load(tx, rec.SessionID); err != nil {
			return err
		}
		if err := tx.Create(rec).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"activity_count":   gorm.Expr("activity_count + ?", 1),
			"last_activity_at": now,
		}
		if rec.IsSensitive {
			updates["sensitive_activity_count"] = gorm.Expr("sensitive_activity_count + ?", 1)
		}
		if rec.IsRestricted {
			updates["restricted_activity_count"] = gorm.Expr("restricted_activity_count + ?", 1)
			updates["restricted"] = true
		}
		if err := tx.Model(&firefighter.Session{}).Where("id = ?", s.ID).Updates(updates).Error; err != nil {
			return err
		}
		s, err = m.load(tx, s.ID)
		return err
	})
	if err != nil {
		if firefighter.KindOf(err) == firefighter.KindNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("保存活动记录失败: %w", err)
	}
	return s, nil
}

// Activities 会话的全部活动记录，按发生时间排序
func (m *Manager) Activities(ctx context.Context, sessionID string) ([]firefighter.ActivityRecord, error) {
	var records []firefighter.ActivityRecord
	err := m.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("occurred_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询活动记录失败: %w", err)
	}
	return records, nil
}
