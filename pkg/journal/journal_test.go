package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanfei1991/batcher/model"
	derrors "github.com/hanfei1991/batcher/pkg/errors"
)

func newReport(target model.TargetID, outcome model.Outcome, fraction float64, launched, shortfall int) *model.CycleReport {
	r := &model.CycleReport{
		Target:       target,
		BatchID:      target + "-" + string(outcome),
		Outcome:      outcome,
		Plan:         model.Plan{Hack: launched + shortfall, WeakenPre: 1},
		FractionUsed: fraction,
		Launched:     map[model.JobKind]int{},
		Shortfall:    map[model.JobKind]int{},
	}
	if launched > 0 {
		r.Launched[model.JobHack] = launched
	}
	if shortfall > 0 {
		r.Shortfall[model.JobHack] = shortfall
	}
	return r
}

func TestJournalRecordAndRecent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sub", "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, newReport("n00dles", model.OutcomePlaced, 0.005, 10, 0)))
	searched := newReport("n00dles", model.OutcomePartial, 0.002, 4, 2)
	searched.Searched = true
	require.NoError(t, j.Record(ctx, searched))
	require.NoError(t, j.Record(ctx, newReport("foodnstuff", model.OutcomeAbstained, 0.0005, 0, 1)))

	all, err := j.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "foodnstuff", all[0].Report.Target)
	require.Greater(t, all[0].ID, all[1].ID)
	require.False(t, all[0].RecordedAt.IsZero())

	noodles, err := j.Recent(ctx, "n00dles", 1)
	require.NoError(t, err)
	require.Len(t, noodles, 1)
	require.Equal(t, *searched, noodles[0].Report)

	none, err := j.Recent(ctx, "joesguns", 10)
	require.NoError(t, err)
	require.Empty(t, none)
	require.NoError(t, j.Close())

	// reopen keeps the data
	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	all, err = j.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestJournalSummary(t *testing.T) {
	t.Parallel()

	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, newReport("n00dles", model.OutcomePlaced, 0.004, 10, 0)))
	require.NoError(t, j.Record(ctx, newReport("n00dles", model.OutcomePartial, 0.002, 4, 2)))
	require.NoError(t, j.Record(ctx, newReport("foodnstuff", model.OutcomeAbstained, 0.0005, 0, 1)))
	require.NoError(t, j.Record(ctx, newReport("foodnstuff", model.OutcomeCanceled, 0.0015, 0, 3)))

	summary, err := j.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)

	food := summary[0]
	require.Equal(t, "foodnstuff", food.Target)
	require.Equal(t, 2, food.Cycles)
	require.Equal(t, 1, food.Abstained)
	require.Equal(t, 1, food.Canceled)
	require.Equal(t, 0, food.Placed)
	require.InDelta(t, 0.001, food.AvgFraction, 1e-12)
	require.Equal(t, 4, food.Shortfall)

	noodles := summary[1]
	require.Equal(t, "n00dles", noodles.Target)
	require.Equal(t, 1, noodles.Placed)
	require.Equal(t, 1, noodles.Partial)
	require.Equal(t, 14, noodles.Launched)
	require.Equal(t, 2, noodles.Shortfall)
}

func TestJournalEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	require.True(t, derrors.ErrJournalEmptyPath.Equal(err))
}
