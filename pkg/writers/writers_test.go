package writers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmapintel/roadmapd/pkg/header"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/sheetval"
)

const sid = "sheet-1"

var testAliases = header.AliasMap{
	"initiative_key": {"key"},
	"title":          {},
	"overall_score":  {"score"},
}

func seedBacklog(fake *sheetio.Fake) {
	fake.Seed(sid, "Backlog", 1, [][]any{
		{"Initiative Key", "Title", "Score", "Human Notes", "Run Status", "Updated Source", "Updated At"},
		{"INIT-000001", "Checkout", "", "keep me", "", "", ""},
		{"INIT-000002", "Onboarding", "", "and me", "", "", ""},
	})
}

func upserter(fake *sheetio.Fake) *Upserter {
	return &Upserter{
		Grid: fake, SpreadsheetID: sid, Tab: "Backlog",
		Aliases: testAliases, KeyField: "initiative_key",
	}
}

func TestUpsertUpdatesAndAppends(t *testing.T) {
	fake := sheetio.NewFake()
	seedBacklog(fake)
	stamp := sheetval.NewStamp("flow1.backlog_sheet_write", time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))

	res, err := upserter(fake).Upsert(context.Background(), []Record{
		{Key: "INIT-000002", Fields: map[string]any{"overall_score": 1050.0}},
		{Key: "INIT-000003", Fields: map[string]any{"title": "Referral", "overall_score": 7.5}},
	}, stamp)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Appended)

	// Existing row updated in place.
	assert.Equal(t, 1050.0, fake.Cell(sid, "Backlog", 3, 3))
	// New record landed on the next free row with its key written.
	assert.Equal(t, "INIT-000003", fake.Cell(sid, "Backlog", 4, 1))
	assert.Equal(t, "Referral", fake.Cell(sid, "Backlog", 4, 2))
	// Stamp on every touched row.
	assert.Equal(t, "flow1.backlog_sheet_write", fake.Cell(sid, "Backlog", 3, 6))
	assert.Equal(t, "2026-08-24T12:00:00Z", fake.Cell(sid, "Backlog", 4, 7))
	// Non-owned column untouched.
	assert.Equal(t, "and me", fake.Cell(sid, "Backlog", 3, 4))
}

func TestUpsertGroupsContiguousRuns(t *testing.T) {
	fake := sheetio.NewFake()
	fake.Seed(sid, "Backlog", 1, [][]any{
		{"Initiative Key", "Score"},
		{"INIT-000001"}, {"INIT-000002"}, {"INIT-000003"}, {"INIT-000004"},
	})
	fake.Seed(sid, "Backlog", 9, [][]any{{"INIT-000009"}})

	u := &Upserter{Grid: fake, SpreadsheetID: sid, Tab: "Backlog",
		Aliases: testAliases, KeyField: "initiative_key"}
	records := []Record{
		{Key: "INIT-000001", Fields: map[string]any{"overall_score": 1.0}},
		{Key: "INIT-000002", Fields: map[string]any{"overall_score": 2.0}},
		{Key: "INIT-000003", Fields: map[string]any{"overall_score": 3.0}},
		{Key: "INIT-000009", Fields: map[string]any{"overall_score": 9.0}},
	}
	plan, res, err := u.BuildPlan(context.Background(), records,
		sheetval.NewStamp("test", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Updated)
	// One column, rows 2-4 plus row 9: two ranges.
	assert.Equal(t, 2, plan.Len())
	assert.Equal(t, 2, plan.Ranges[0].StartRow)
	assert.Len(t, plan.Ranges[0].Values, 3)
	assert.Equal(t, 9, plan.Ranges[1].StartRow)
}

func TestUpsertEmptyRecordsNoCalls(t *testing.T) {
	fake := sheetio.NewFake()
	seedBacklog(fake)
	res, err := upserter(fake).Upsert(context.Background(), nil, sheetval.NewStamp("test", time.Now()))
	require.NoError(t, err)
	assert.Zero(t, res.Updated+res.Appended)
	assert.Zero(t, fake.BatchUpdateCalls)
}

func TestUpsertMissingKeyColumn(t *testing.T) {
	fake := sheetio.NewFake()
	fake.Seed(sid, "Backlog", 1, [][]any{{"Title"}})
	_, err := upserter(fake).Upsert(context.Background(),
		[]Record{{Key: "INIT-000001"}}, sheetval.NewStamp("test", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initiative_key")
}

func TestWriteRowStatus(t *testing.T) {
	fake := sheetio.NewFake()
	seedBacklog(fake)
	err := upserter(fake).WriteRowStatus(context.Background(), map[int]string{
		2: "OK",
		3: "FAILED: duplicate initiative_key",
	})
	require.NoError(t, err)
	assert.Equal(t, "OK", fake.Cell(sid, "Backlog", 2, 5))
	assert.Equal(t, "FAILED: duplicate initiative_key", fake.Cell(sid, "Backlog", 3, 5))
}

func TestAppendIsMonotone(t *testing.T) {
	fake := sheetio.NewFake()
	fake.Seed(sid, "Runs", 1, [][]any{
		{"Run ID", "Status", "Objective"},
		{"run_1", "succeeded", "11"},
	})
	a := &Appender{Grid: fake, SpreadsheetID: sid, Tab: "Runs",
		Aliases: header.AliasMap{"run_id": {}, "status": {}, "objective": {}},
		KeyField: "run_id"}

	rows := []map[string]any{
		{"run_id": "run_2", "status": "succeeded", "objective": 12.0},
		{"run_id": "run_3", "status": "failed"},
	}
	start, err := a.Append(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 3, start)
	assert.Equal(t, "run_2", fake.Cell(sid, "Runs", 3, 1))
	assert.Equal(t, "run_3", fake.Cell(sid, "Runs", 4, 1))
	// Prior row untouched.
	assert.Equal(t, "run_1", fake.Cell(sid, "Runs", 2, 1))

	// A second call with the same rows appends again below.
	start, err = a.Append(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 5, start)
	assert.Equal(t, 6, fake.LastRow(sid, "Runs"))
}

func TestAppendChunksLargeInserts(t *testing.T) {
	fake := sheetio.NewFake()
	fake.Seed(sid, "Results", 1, [][]any{{"Run ID"}})
	a := &Appender{Grid: fake, SpreadsheetID: sid, Tab: "Results",
		Aliases: header.AliasMap{"run_id": {}}, KeyField: "run_id"}

	rows := make([]map[string]any, 1200)
	for i := range rows {
		rows[i] = map[string]any{"run_id": fmt.Sprintf("run_%04d", i)}
	}
	_, err := a.Append(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.AppendCalls)
	assert.Equal(t, 1201, fake.LastRow(sid, "Results"))
}

func TestProtectSystemColumns(t *testing.T) {
	fake := sheetio.NewFake()
	seedBacklog(fake)
	err := ProtectSystemColumns(context.Background(), fake, sid, "Backlog", testAliases)
	require.NoError(t, err)
	require.Len(t, fake.Protections, 1)
	assert.Equal(t, []int{5, 6, 7}, fake.Protections[0].Cols)
}
