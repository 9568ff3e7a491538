package orchestration

import (
	"errors"
	"testing"
	"time"

	"github.com/modporter/modporter/pkg/models"
)

func TestSubmitBeforeStartFailsFast(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MaxWorkers: 2})

	_, err := pool.SubmitTask(models.NewTaskNode("t1", "agent", nil), func(map[string]any) (any, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrPoolNotStarted) {
		t.Fatalf("expected ErrPoolNotStarted, got %v", err)
	}
}

func TestSubmitAndResult(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MaxWorkers: 2})
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop(true, time.Second)

	task := models.NewTaskNode("t1", "agent", map[string]any{"x": 41})
	future, err := pool.SubmitTask(task, func(input map[string]any) (any, error) {
		return input["x"].(int) + 1, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := future.Result(time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %v", result)
	}
}

func TestSubmitIdempotentPerTaskID(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MaxWorkers: 1})
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop(false, 0)

	block := make(chan struct{})
	task := models.NewTaskNode("t1", "agent", nil)
	fn := func(map[string]any) (any, error) {
		<-block
		return nil, nil
	}

	f1, err := pool.SubmitTask(task, fn)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := pool.SubmitTask(task, fn)
	if err != nil {
		t.Fatal(err)
	}
	if f1 != f2 {
		t.Error("expected the same future for a duplicate in-flight submission")
	}
	close(block)
}

func TestExecutorErrorWrapped(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MaxWorkers: 1})
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop(true, time.Second)

	agentErr := errors.New("texture atlas missing")
	task := models.NewTaskNode("convert_assets", "asset_converter", nil)
	future, _ := pool.SubmitTask(task, func(map[string]any) (any, error) {
		return nil, agentErr
	})

	_, err := future.Result(time.Second)
	if !errors.Is(err, agentErr) {
		t.Fatalf("expected wrapped agent error, got %v", err)
	}
	if errors.Is(err, ErrTaskTimeout) {
		t.Error("executor error must not be a timeout error")
	}
}

func TestTaskTimeoutDistinctErrorKind(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MaxWorkers: 1, TaskTimeout: 20 * time.Millisecond})
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop(false, 0)

	task := models.NewTaskNode("slow", "agent", nil)
	future, _ := pool.SubmitTask(task, func(map[string]any) (any, error) {
		time.Sleep(5 * time.Second)
		return nil, nil
	})

	_, err := future.Result(2 * time.Second)
	if !errors.Is(err, ErrTaskTimeout) {
		t.Fatalf("expected ErrTaskTimeout, got %v", err)
	}
}

func TestExecutorPanicBecomesError(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MaxWorkers: 1})
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop(true, time.Second)

	task := models.NewTaskNode("t1", "agent", nil)
	future, _ := pool.SubmitTask(task, func(map[string]any) (any, error) {
		panic("unexpected geometry")
	})

	_, err := future.Result(time.Second)
	if err == nil {
		t.Fatal("expected a panic to surface as an error")
	}
}

func TestWaitForCompletion(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MaxWorkers: 4})
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop(true, time.Second)

	ok, _ := pool.SubmitTask(models.NewTaskNode("ok", "agent", nil), func(map[string]any) (any, error) {
		return "done", nil
	})
	bad, _ := pool.SubmitTask(models.NewTaskNode("bad", "agent", nil), func(map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	result := pool.WaitForCompletion([]*TaskFuture{ok, bad}, 2*time.Second)
	if len(result.Completed) != 1 || result.Completed[0] != "ok" {
		t.Errorf("expected [ok] completed, got %v", result.Completed)
	}
	if len(result.Failed) != 1 || result.Failed[0] != "bad" {
		t.Errorf("expected [bad] failed, got %v", result.Failed)
	}
	if len(result.TimedOut) != 0 {
		t.Errorf("expected no timeouts, got %v", result.TimedOut)
	}
}

func TestWaitForCompletionTimeout(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MaxWorkers: 1})
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop(false, 0)

	block := make(chan struct{})
	defer close(block)
	slow, _ := pool.SubmitTask(models.NewTaskNode("slow", "agent", nil), func(map[string]any) (any, error) {
		<-block
		return nil, nil
	})

	result := pool.WaitForCompletion([]*TaskFuture{slow}, 50*time.Millisecond)
	if len(result.TimedOut) != 1 || result.TimedOut[0] != "slow" {
		t.Errorf("expected [slow] timed out, got %+v", result)
	}
}

func TestWorkerStatsAggregate(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MaxWorkers: 2})
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop(true, time.Second)

	var futures []*TaskFuture
	for _, id := range []string{"a", "b", "c"} {
		f, err := pool.SubmitTask(models.NewTaskNode(id, "agent", nil), func(map[string]any) (any, error) {
			return nil, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		futures = append(futures, f)
	}
	f, err := pool.SubmitTask(models.NewTaskNode("d", "agent", nil), func(map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	if err != nil {
		t.Fatal(err)
	}
	futures = append(futures, f)
	pool.WaitForCompletion(futures, 2*time.Second)

	stats := pool.GetWorkerStats()
	if stats.Completed != 3 {
		t.Errorf("expected 3 completed, got %d", stats.Completed)
	}
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", stats.Failed)
	}
	if stats.SuccessRate != 0.75 {
		t.Errorf("expected success rate 0.75, got %f", stats.SuccessRate)
	}
	if len(stats.Workers) != 2 {
		t.Errorf("expected 2 worker entries, got %d", len(stats.Workers))
	}
}

func TestStopCancelsOutstanding(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MaxWorkers: 1})
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}

	block := make(chan struct{})
	defer close(block)
	future, _ := pool.SubmitTask(models.NewTaskNode("t1", "agent", nil), func(map[string]any) (any, error) {
		<-block
		return nil, nil
	})

	pool.Stop(false, 0)

	_, err := future.Result(time.Second)
	if !errors.Is(err, ErrTaskCancelled) {
		t.Fatalf("expected ErrTaskCancelled, got %v", err)
	}

	if _, err := pool.SubmitTask(models.NewTaskNode("t2", "agent", nil), nil); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped after Stop, got %v", err)
	}
}
