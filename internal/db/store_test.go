package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "mdia.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewStore(database)
}

func sessionAt(created time.Time) *analysis.Session {
	s := analysis.NewSession(analysis.DocPDF, "report.pdf")
	s.CreatedAt = created
	s.UpdatedAt = created
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)

	s := sessionAt(time.Now().UTC())
	s.Document = analysis.DocumentResult{
		Tickers:   []string{"600519"},
		Companies: []string{"贵州茅台"},
		Report:    "报告",
		Modules:   []string{"个股分析"},
	}
	s.SelectedTicker = "600519"
	s.Progress.Enter(analysis.StagePlanExecution)
	s.Progress.SetSteps([]analysis.Step{{FullStepID: "1.a", Name: "行情"}, {FullStepID: "1.b", Name: "估值"}})
	out := "行情数据"
	s.Progress.Record(analysis.StepReport{Step: 1, FullStepID: "1.a", Name: "行情", Report: "完成", Status: analysis.StatusCompleted, ToolOutput: &out})
	require.NoError(t, store.SaveSession(ctx, s))

	// A second save replaces the snapshot and step reports.
	s.Progress.Record(analysis.StepReport{Step: 2, FullStepID: "1.b", Name: "估值", Report: "失败", Status: analysis.StatusFailed})
	require.NoError(t, store.SaveSession(ctx, s))

	got, err := store.LoadSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.Document, got.Document)
	assert.Equal(t, 2, got.Progress.CurrentStep)
	require.Len(t, got.Progress.ExecutionReports, 2)
	require.NotNil(t, got.Progress.ExecutionReports[0].ToolOutput)
	assert.Equal(t, "行情数据", *got.Progress.ExecutionReports[0].ToolOutput)
	require.NoError(t, got.Progress.Check())

	var rows int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM step_reports WHERE analysis_id=?`, s.ID).Scan(&rows))
	assert.Equal(t, 2, rows)

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "贵州茅台 (600519)", list[0].Title)
	assert.Equal(t, analysis.StagePlanExecution, list[0].Stage)
	assert.Equal(t, 2, list[0].TotalSteps)
}

func TestStore_Events(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	s := sessionAt(time.Now().UTC())
	require.NoError(t, store.SaveSession(ctx, s))

	require.NoError(t, store.AppendEvent(ctx, s.ID, analysis.Event{Type: analysis.EventDocumentAnalyzed, Message: "ok"}))
	require.NoError(t, store.AppendEvent(ctx, s.ID, analysis.Event{Type: analysis.EventStepFailed, Step: 1, Message: "失败"}))

	events, err := store.Events(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Seq)
	assert.Equal(t, 0, events[0].Step)
	assert.Equal(t, 2, events[1].Seq)
	assert.Equal(t, analysis.EventStepFailed, events[1].Type)
	assert.Equal(t, 1, events[1].Step)
	assert.False(t, events[1].At.IsZero())
}

func TestStore_ResolveAndDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)

	_, err := store.Resolve(ctx, "")
	require.ErrorIs(t, err, ErrNotFound)

	older := sessionAt(time.Now().UTC().Add(-time.Hour))
	newer := sessionAt(time.Now().UTC())
	require.NoError(t, store.SaveSession(ctx, older))
	require.NoError(t, store.SaveSession(ctx, newer))

	latest, err := store.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	byPrefix, err := store.Resolve(ctx, older.ID[:13])
	require.NoError(t, err)
	assert.Equal(t, older.ID, byPrefix.ID)

	require.NoError(t, store.Delete(ctx, older.ID))
	_, err = store.LoadSession(ctx, older.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, older.ID), ErrNotFound)
}

func TestStore_Prune(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	now := time.Now().UTC()

	ids := make([]string, 0, 4)
	for _, age := range []time.Duration{0, 24 * time.Hour, 10 * 24 * time.Hour, 20 * 24 * time.Hour} {
		s := sessionAt(now.Add(-age))
		require.NoError(t, store.SaveSession(ctx, s))
		require.NoError(t, store.AppendEvent(ctx, s.ID, analysis.Event{Type: analysis.EventDocumentAnalyzed}))
		ids = append(ids, s.ID)
	}

	res, err := store.Prune(ctx, RetentionPolicy{KeepLast: 1, KeepDays: 7}, true)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{Considered: 4, Kept: 2, Deleted: 2, IDs: []string{ids[2], ids[3]}}, res)
	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 4, "dry run keeps everything")

	res, err = store.Prune(ctx, RetentionPolicy{KeepLast: 1, KeepDays: 7}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)

	list, err = store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[0], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)

	events, err := store.Events(ctx, ids[3])
	require.NoError(t, err)
	assert.Empty(t, events)

	res, err = store.Prune(ctx, RetentionPolicy{}, false)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{}, res)
}
