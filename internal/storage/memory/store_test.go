package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/storage"
)

var (
	sUSDS = domain.Branch{ID: "0xa", Name: "sUSDS", MCR: 1.1, CCR: 1.2}
	wbtc  = domain.Branch{ID: "0xb", Name: "WBTC", MCR: 1.2, CCR: 1.5}
	day1  = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	day2  = day1.Add(24 * time.Hour)
)

func f(v float64) *float64 { return &v }

func TestRedemptionRecordStore_UpsertBulkAndGet(t *testing.T) {
	store := NewRedemptionRecordStore()
	ctx := context.Background()

	records := []*domain.RedemptionRecord{
		{ID: "r2", Branch: sUSDS, Timestamp: day2, TCR: f(1.5)},
		{ID: "r1", Branch: sUSDS, Timestamp: day1, TCR: nil},
		{ID: "r3", Branch: wbtc, Timestamp: day1, TCR: f(2.0)},
	}

	if err := store.UpsertBulk(ctx, records); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	result, err := store.GetByBranch(ctx, "sUSDS")
	if err != nil {
		t.Fatalf("GetByBranch failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(result))
	}
	if result[0].ID != "r1" || result[1].ID != "r2" {
		t.Errorf("Expected timestamp order r1, r2, got %s, %s", result[0].ID, result[1].ID)
	}
	if result[0].TCR != nil {
		t.Errorf("Expected undefined TCR to stay nil")
	}

	all, _ := store.GetAll(ctx)
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}
	// day1 rows first, ordered by branch name bytewise ("WBTC" < "sUSDS").
	if all[0].ID != "r3" || all[1].ID != "r1" || all[2].ID != "r2" {
		t.Errorf("Unexpected GetAll order: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestRedemptionRecordStore_SameIDDifferentBranch(t *testing.T) {
	store := NewRedemptionRecordStore()
	ctx := context.Background()

	records := []*domain.RedemptionRecord{
		{ID: "r1", Branch: sUSDS, Timestamp: day1},
		{ID: "r1", Branch: wbtc, Timestamp: day1},
	}
	if err := store.UpsertBulk(ctx, records); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}
}

func TestRedemptionRecordStore_UpsertReplaces(t *testing.T) {
	store := NewRedemptionRecordStore()
	ctx := context.Background()

	if err := store.UpsertBulk(ctx, []*domain.RedemptionRecord{
		{ID: "r1", Branch: sUSDS, Timestamp: day1, ReserveColl: 0},
	}); err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}
	if err := store.UpsertBulk(ctx, []*domain.RedemptionRecord{
		{ID: "r1", Branch: sUSDS, Timestamp: day1, ReserveColl: 5},
		{ID: "r2", Branch: sUSDS, Timestamp: day2},
	}); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	all, _ := store.GetAll(ctx)
	if len(all) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(all))
	}
	if all[0].ID != "r1" || all[0].ReserveColl != 5 {
		t.Errorf("Expected r1 replaced with reserve 5, got %+v", all[0])
	}
}

func TestRedemptionRecordStore_IntraBatchDuplicate(t *testing.T) {
	store := NewRedemptionRecordStore()
	ctx := context.Background()

	records := []*domain.RedemptionRecord{
		{ID: "r1", Branch: sUSDS, Timestamp: day1},
		{ID: "r2", Branch: sUSDS, Timestamp: day1},
		{ID: "r1", Branch: sUSDS, Timestamp: day2}, // duplicate key
	}

	err := store.UpsertBulk(ctx, records)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}

	result, _ := store.GetAll(ctx)
	if len(result) != 0 {
		t.Errorf("Expected 0 records (rollback), got %d", len(result))
	}
}

func TestRedemptionRecordStore_InvalidInput(t *testing.T) {
	store := NewRedemptionRecordStore()

	err := store.UpsertBulk(context.Background(), []*domain.RedemptionRecord{{ID: "r1"}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestRedemptionRecordStore_ReturnsCopies(t *testing.T) {
	store := NewRedemptionRecordStore()
	ctx := context.Background()

	in := &domain.RedemptionRecord{ID: "r1", Branch: sUSDS, Timestamp: day1, EntireColl: 10}
	if err := store.UpsertBulk(ctx, []*domain.RedemptionRecord{in}); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}
	in.EntireColl = 99

	out, _ := store.GetAll(ctx)
	out[0].EntireColl = 77

	again, _ := store.GetAll(ctx)
	if again[0].EntireColl != 10 {
		t.Errorf("Expected stored value 10, got %v", again[0].EntireColl)
	}
}

func TestBranchStateStore_UpsertBulkAndGet(t *testing.T) {
	store := NewBranchStateStore()
	ctx := context.Background()

	states := []*domain.BranchDailyState{
		{Branch: wbtc, Bucket: day2, EntireColl: 5, EntireDebt: 100, Price: 60000, TCR: f(3000)},
		{Branch: wbtc, Bucket: day1, EntireColl: 4, EntireDebt: 100, Price: 60000, TCR: f(2400)},
		{Branch: sUSDS, Bucket: day1, EntireColl: 4, EntireDebt: 0, Price: 1},
	}
	if err := store.UpsertBulk(ctx, states); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	result, _ := store.GetByBranch(ctx, "WBTC")
	if len(result) != 2 {
		t.Fatalf("Expected 2 states, got %d", len(result))
	}
	if !result[0].Bucket.Equal(day1) {
		t.Errorf("Expected bucket order, got %v first", result[0].Bucket)
	}

	all, _ := store.GetAll(ctx)
	if len(all) != 3 || all[0].Branch.Name != "WBTC" {
		t.Errorf("Expected WBTC rows before sUSDS, got %+v", all)
	}
	if all[2].TCR != nil {
		t.Errorf("Expected nil TCR for zero debt state")
	}

	states[0].EntireColl = 6
	if err := store.UpsertBulk(ctx, states[:1]); err != nil {
		t.Fatalf("Re-upsert failed: %v", err)
	}
	result, _ = store.GetByBranch(ctx, "WBTC")
	if len(result) != 2 || result[1].EntireColl != 6 {
		t.Errorf("Expected day2 state replaced, got %+v", result)
	}
}

func TestActiveTroveStore_UpsertBulkAndGet(t *testing.T) {
	store := NewActiveTroveStore()
	ctx := context.Background()

	closeable := true
	rows := []*domain.ActiveTroveRecord{
		{TroveID: "2", Branch: sUSDS, Bucket: day1, Coll: 1, Debt: 1},
		{TroveID: "1", Branch: sUSDS, Bucket: day2, Coll: 1, Debt: 1, Filled: true, Closeable: &closeable},
		{TroveID: "1", Branch: sUSDS, Bucket: day1, Coll: 1, Debt: 1},
		{TroveID: "1", Branch: wbtc, Bucket: day1, Coll: 1, Debt: 1},
	}
	if err := store.UpsertBulk(ctx, rows); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	result, _ := store.GetByBranch(ctx, "sUSDS")
	if len(result) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(result))
	}
	if result[0].TroveID != "1" || !result[0].Bucket.Equal(day1) {
		t.Errorf("Unexpected first row: %+v", result[0])
	}
	if !result[1].Filled || !result[1].IsCloseable() {
		t.Errorf("Expected filled closeable second row")
	}

	byBucket, _ := store.GetByBucket(ctx, day1)
	if len(byBucket) != 3 {
		t.Errorf("Expected 3 rows at day1, got %d", len(byBucket))
	}

	err := store.UpsertBulk(ctx, []*domain.ActiveTroveRecord{rows[0], rows[0]})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestResultStore_Save(t *testing.T) {
	ctx := context.Background()
	rs := &storage.ResultStore{
		Redemptions:  NewRedemptionRecordStore(),
		BranchStates: NewBranchStateStore(),
		ActiveTroves: NewActiveTroveStore(),
	}

	err := rs.Save(ctx,
		[]*domain.RedemptionRecord{{ID: "r1", Branch: sUSDS, Timestamp: day1}},
		[]*domain.BranchDailyState{{Branch: sUSDS, Bucket: day1}},
		[]*domain.ActiveTroveRecord{{TroveID: "1", Branch: sUSDS, Bucket: day1}},
	)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, _ := rs.ActiveTroves.GetAll(ctx)
	if len(got) != 1 {
		t.Errorf("Expected 1 active row, got %d", len(got))
	}

	empty := &storage.ResultStore{}
	if err := empty.Save(ctx, nil, nil, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestResultStore_SaveTwice(t *testing.T) {
	ctx := context.Background()
	rs := NewResultStore()

	first := []*domain.RedemptionRecord{{ID: "r1", Branch: sUSDS, Timestamp: day1}}
	states := []*domain.BranchDailyState{{Branch: sUSDS, Bucket: day1}}
	active := []*domain.ActiveTroveRecord{{TroveID: "1", Branch: sUSDS, Bucket: day1}}
	if err := rs.Save(ctx, first, states, active); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	if err := rs.Save(ctx, first, states, active); err != nil {
		t.Fatalf("Saving identical results again failed: %v", err)
	}

	// A longer history adds rows and rewrites the ones it shares.
	longer := append(first, &domain.RedemptionRecord{ID: "r2", Branch: sUSDS, Timestamp: day2})
	states = append(states, &domain.BranchDailyState{Branch: sUSDS, Bucket: day2})
	active = append(active, &domain.ActiveTroveRecord{TroveID: "1", Branch: sUSDS, Bucket: day2, Filled: true})
	if err := rs.Save(ctx, longer, states, active); err != nil {
		t.Fatalf("Save over longer history failed: %v", err)
	}

	redemptions, _ := rs.Redemptions.GetAll(ctx)
	branches, _ := rs.BranchStates.GetAll(ctx)
	rows, _ := rs.ActiveTroves.GetAll(ctx)
	if len(redemptions) != 2 || len(branches) != 2 || len(rows) != 2 {
		t.Errorf("Expected 2 rows per table, got %d, %d, %d", len(redemptions), len(branches), len(rows))
	}
}

func TestResultStore_SaveValidatesBeforeWriting(t *testing.T) {
	ctx := context.Background()
	rs := NewResultStore()

	err := rs.Save(ctx,
		[]*domain.RedemptionRecord{{ID: "r1", Branch: sUSDS, Timestamp: day1}},
		[]*domain.BranchDailyState{{Branch: sUSDS, Bucket: day1}, {Branch: sUSDS, Bucket: day1}},
		nil,
	)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	redemptions, _ := rs.Redemptions.GetAll(ctx)
	if len(redemptions) != 0 {
		t.Errorf("Expected no redemption rows after a rejected save, got %d", len(redemptions))
	}
}

type recordingSaver struct {
	calls int
}

func (r *recordingSaver) SaveResults(context.Context, []*domain.RedemptionRecord, []*domain.BranchDailyState, []*domain.ActiveTroveRecord) error {
	r.calls++
	return nil
}

func TestResultStore_SaveUsesAtomicSaver(t *testing.T) {
	ctx := context.Background()
	rs := NewResultStore()
	saver := &recordingSaver{}
	rs.Atomic = saver

	err := rs.Save(ctx, []*domain.RedemptionRecord{{ID: "r1", Branch: sUSDS, Timestamp: day1}}, nil, nil)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saver.calls != 1 {
		t.Errorf("Expected one atomic save, got %d", saver.calls)
	}
	if got, _ := rs.Redemptions.GetAll(ctx); len(got) != 0 {
		t.Errorf("Expected per-table stores to be bypassed, got %d rows", len(got))
	}
}
