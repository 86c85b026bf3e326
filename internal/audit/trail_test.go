package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Entry{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func fixedClock() func() time.Time {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestTrailAppendChainsHashes(t *testing.T) {
	db := openTestDB(t)
	trail := NewTrail(db, WithLogger(zaptest.NewLogger(t)), WithClock(fixedClock()))
	ctx := context.Background()

	first, err := trail.Append(ctx, EventRequestSubmitted, "FFR-1", "alice", map[string]any{"risk_score": 35})
	require.NoError(t, err)
	require.Empty(t, first.PrevHash)
	require.Len(t, first.Hash, 64)
	require.Equal(t, CategoryRequest, first.Category)

	second, err := trail.Append(ctx, EventRequestApproved, "FFR-1", "bob", nil)
	require.NoError(t, err)
	require.Equal(t, first.Hash, second.PrevHash)

	trail.Record(ctx, EventSessionCreated, "FFS-1", "bob", map[string]any{"end_time": time.Date(2026, 10, 18, 13, 0, 0, 0, time.UTC)})

	res, err := trail.Verify(ctx)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, 3, res.Entries)

	entries, err := trail.Query(ctx, Filter{SubjectID: "FFR-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, EventRequestSubmitted, entries[0].Event)
}

func TestTrailVerifyDetectsTampering(t *testing.T) {
	db := openTestDB(t)
	trail := NewTrail(db, WithClock(fixedClock()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := trail.Append(ctx, EventSessionExtended, "FFS-1", "alice", map[string]any{"sequence": i + 1})
		require.NoError(t, err)
	}

	var victim Entry
	require.NoError(t, db.Order("seq ASC").Offset(1).Limit(1).Take(&victim).Error)
	require.NoError(t, db.Model(&Entry{}).Where("seq = ?", victim.Seq).Update("actor", "mallory").Error)

	res, err := trail.Verify(ctx)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, victim.Seq, res.BrokenAt)
}

func TestTrailVerifyDetectsDeletion(t *testing.T) {
	db := openTestDB(t)
	trail := NewTrail(db, WithClock(fixedClock()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := trail.Append(ctx, EventReviewCreated, "FFV-1", "system", nil)
		require.NoError(t, err)
	}
	require.NoError(t, db.Where("seq = ?", 2).Delete(&Entry{}).Error)

	res, err := trail.Verify(ctx)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.EqualValues(t, 3, res.BrokenAt)
}

func TestTrailExportCSV(t *testing.T) {
	db := openTestDB(t)
	trail := NewTrail(db, WithClock(fixedClock()))
	ctx := context.Background()

	trail.Record(ctx, EventEvidenceExport, "FFS-1", "auditor", map[string]any{"format": "tabular"})
	res, err := trail.Export(ctx, Filter{}, FormatCSV)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalCount)
	require.True(t, strings.HasSuffix(res.Filename, ".csv"))

	rows, err := csv.NewReader(bytes.NewReader(res.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, EventEvidenceExport, rows[1][1])

	res, err = trail.Export(ctx, Filter{}, FormatJSON)
	require.NoError(t, err)
	require.Contains(t, string(res.Data), `"totalCount": 1`)
}
