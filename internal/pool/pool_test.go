package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestCollect_IndexAlignment(t *testing.T) {
	// Later jobs finish first; results must still line up with submission order.
	jobs := make([]Job[int], 8)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) (int, error) {
			time.Sleep(time.Duration(8-i) * time.Millisecond)
			return i * 10, nil
		}
	}

	results := Collect(context.Background(), Parallel{}, jobs, 8)

	if len(results) != 8 {
		t.Fatalf("expected 8 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("job %d: unexpected error: %v", i, r.Err)
		}
		if r.Value != i*10 {
			t.Errorf("job %d: expected %d, got %d", i, i*10, r.Value)
		}
	}
}

func TestCollect_OneFailureDoesNotAbortBatch(t *testing.T) {
	boom := errors.New("boom")
	jobs := make([]Job[string], 5)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) (string, error) {
			if i == 2 {
				return "", boom
			}
			return fmt.Sprintf("ok-%d", i), nil
		}
	}

	done := make(chan []Result[string], 1)
	go func() {
		done <- Collect(context.Background(), Parallel{}, jobs, 3)
	}()

	var results []Result[string]
	select {
	case results = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not complete")
	}

	if len(results) != 5 {
		t.Fatalf("expected 5 result slots, got %d", len(results))
	}
	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			if i != 2 {
				t.Errorf("unexpected failure at slot %d: %v", i, r.Err)
			}
			continue
		}
		if r.Value != fmt.Sprintf("ok-%d", i) {
			t.Errorf("slot %d: got %q", i, r.Value)
		}
	}
	if failed != 1 {
		t.Errorf("expected exactly 1 failed slot, got %d", failed)
	}
}

func TestCollect_SerialPreservesOrder(t *testing.T) {
	var order []int
	jobs := make([]Job[int], 6)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) (int, error) {
			order = append(order, i)
			return i, nil
		}
	}

	Collect(context.Background(), Serial{}, jobs, 4)

	for i, got := range order {
		if got != i {
			t.Fatalf("serial execution out of order: %v", order)
		}
	}
}

func TestParallel_SingleWorkerIsSequential(t *testing.T) {
	// maxWorkers of 1 must behave exactly like Serial: no data race on the
	// shared slice and strict submission order.
	var order []int
	jobs := make([]Job[int], 5)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) (int, error) {
			order = append(order, i)
			return i, nil
		}
	}

	Collect(context.Background(), Parallel{}, jobs, 1)

	for i, got := range order {
		if got != i {
			t.Fatalf("single-worker execution out of order: %v", order)
		}
	}
}

func TestParallel_ClampsWorkersToJobCount(t *testing.T) {
	var inFlight, peak atomic.Int32
	jobs := make([]Job[struct{}], 3)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) (struct{}, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return struct{}{}, nil
		}
	}

	Collect(context.Background(), Parallel{}, jobs, 100)

	if p := peak.Load(); p > 3 {
		t.Errorf("expected at most 3 concurrent jobs, saw %d", p)
	}
}

func TestCollect_EmptyBatch(t *testing.T) {
	var jobs []Job[int]
	results := Collect(context.Background(), Parallel{}, jobs, 10)
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestFromConfig(t *testing.T) {
	if _, ok := FromConfig("serial").(Serial); !ok {
		t.Error("expected Serial for \"serial\"")
	}
	if _, ok := FromConfig("parallel").(Parallel); !ok {
		t.Error("expected Parallel for \"parallel\"")
	}
	if _, ok := FromConfig("").(Parallel); !ok {
		t.Error("expected Parallel fallback")
	}
}
