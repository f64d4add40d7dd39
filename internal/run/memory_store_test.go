package run

import (
	"context"
	stdErrors "errors"
	"testing"

	"ToolFlow/internal/plan"
)

func newTestRun(id string, strategy plan.Strategy) *Run {
	return &Run{
		ID: id,
		Plan: &plan.ExecutionPlan{
			Strategy: strategy,
			Calls:    []*plan.ToolCall{{Step: 1, ToolName: "add"}},
		},
		Status:     StatusPending,
		MaxRetries: 3,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestRun("run-1", plan.StrategySingle)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, newTestRun("run-1", plan.StrategySingle)); !stdErrors.Is(err, ErrRunConflict) {
		t.Fatalf("expected conflict for duplicate id, got %v", err)
	}
	if err := store.Create(ctx, &Run{}); err == nil {
		t.Fatalf("expected error for empty run id")
	}

	r, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Status != StatusPending || r.CreatedAt == 0 || r.UpdatedAt == 0 {
		t.Fatalf("unexpected stored run: %+v", r)
	}

	if _, err := store.Get(ctx, "missing"); !stdErrors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	r := newTestRun("run-1", plan.StrategySingle)
	r.MaxRetries = 2
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := store.Claim(ctx, "run-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claim state: %+v", claimed)
	}

	// 运行中的记录不允许并发领取。
	if _, err := store.Claim(ctx, "run-1"); !stdErrors.Is(err, ErrRunConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}

	// 非终态失败回到 pending，允许再次领取。
	if err := store.MarkFailed(ctx, "run-1", CodeRunProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.ErrorCode != string(CodeRunProcessing) || got.LastError != "boom" {
		t.Fatalf("unexpected state after retryable failure: %+v", got)
	}

	if claimed, err = store.Claim(ctx, "run-1"); err != nil || claimed.Attempts != 2 {
		t.Fatalf("second claim: %+v, %v", claimed, err)
	}
	if err := store.MarkFailed(ctx, "run-1", CodeRunProcessing, "boom again", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// 尝试次数耗尽后拒绝继续领取。
	if _, err := store.Claim(ctx, "run-1"); !stdErrors.Is(err, ErrRunExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestMemoryStoreClaimAfterSuccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestRun("run-1", plan.StrategySingle)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "run-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	result := plan.ExecutionResult{Strategy: plan.StrategySingle, OverallSuccess: true, FinalValue: float64(7)}
	if err := store.MarkSucceeded(ctx, "run-1", result); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	if _, err := store.Claim(ctx, "run-1"); !stdErrors.Is(err, ErrRunCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	r, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Result == nil || r.Result.FinalValue != float64(7) {
		t.Fatalf("result not persisted: %+v", r)
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seed := []struct {
		id       string
		strategy plan.Strategy
		status   Status
		updated  int64
	}{
		{"run-a", plan.StrategySingle, StatusSucceeded, 100},
		{"run-b", plan.StrategyParallel, StatusFailed, 200},
		{"run-c", plan.StrategyParallel, StatusPending, 300},
		{"run-d", plan.StrategySequential, StatusSucceeded, 400},
	}
	for _, s := range seed {
		if err := store.Create(ctx, newTestRun(s.id, s.strategy)); err != nil {
			t.Fatalf("create %s: %v", s.id, err)
		}
	}
	// 直接改写时间戳与状态以获得可控的排序输入。
	store.mu.Lock()
	for _, s := range seed {
		r := store.runs[s.id]
		r.Status = s.status
		r.UpdatedAt = s.updated
		if s.status == StatusSucceeded {
			r.Result = &plan.ExecutionResult{OverallSuccess: true}
		}
	}
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 || all[0].ID != "run-d" || all[3].ID != "run-a" {
		t.Fatalf("default order must be newest first: %+v", all)
	}

	asc, err := store.List(ctx, ListOptions{Order: SortByUpdatedAsc})
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if asc[0].ID != "run-a" {
		t.Fatalf("ascending order broken: %+v", asc)
	}

	byStatus, err := store.List(ctx, ListOptions{Statuses: []Status{StatusSucceeded}})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 2 {
		t.Fatalf("status filter: %+v", byStatus)
	}

	byStrategy, err := store.List(ctx, ListOptions{Strategies: []plan.Strategy{plan.StrategyParallel}})
	if err != nil {
		t.Fatalf("list by strategy: %v", err)
	}
	if len(byStrategy) != 2 {
		t.Fatalf("strategy filter: %+v", byStrategy)
	}

	windowed, err := store.List(ctx, ListOptions{UpdatedGTE: 150, UpdatedLTE: 350})
	if err != nil {
		t.Fatalf("list windowed: %v", err)
	}
	if len(windowed) != 2 {
		t.Fatalf("time window filter: %+v", windowed)
	}

	hasResult := true
	withResult, err := store.List(ctx, ListOptions{HasResult: &hasResult})
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(withResult) != 2 {
		t.Fatalf("result presence filter: %+v", withResult)
	}

	paged, err := store.List(ctx, ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(paged) != 2 || paged[0].ID != "run-c" {
		t.Fatalf("pagination broken: %+v", paged)
	}

	empty, err := store.List(ctx, ListOptions{Offset: 10})
	if err != nil || len(empty) != 0 {
		t.Fatalf("out of range offset should return empty: %+v, %v", empty, err)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, status := range []Status{StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusSucceeded} {
		id := string(rune('a' + i))
		if err := store.Create(ctx, newTestRun("run-"+id, plan.StrategySingle)); err != nil {
			t.Fatalf("create: %v", err)
		}
		store.mu.Lock()
		store.runs["run-"+id].Status = status
		store.runs["run-"+id].UpdatedAt = int64(100 * (i + 1))
		store.mu.Unlock()
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 5 || stats.Pending != 1 || stats.Running != 1 || stats.Succeeded != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestUpdatedAt != 100 || stats.NewestUpdatedAt != 500 {
		t.Fatalf("unexpected time range: %+v", stats)
	}

	filtered, err := store.Stats(ctx, ListOptions{Statuses: []Status{StatusSucceeded}})
	if err != nil {
		t.Fatalf("filtered stats: %v", err)
	}
	if filtered.Total != 2 || filtered.Succeeded != 2 {
		t.Fatalf("unexpected filtered stats: %+v", filtered)
	}

	none, err := store.Stats(ctx, ListOptions{Statuses: []Status{"unknown"}})
	if err != nil {
		t.Fatalf("empty stats: %v", err)
	}
	if none.Total != 0 || none.OldestUpdatedAt != 0 || none.NewestUpdatedAt != 0 {
		t.Fatalf("empty stats should be zeroed: %+v", none)
	}
}
