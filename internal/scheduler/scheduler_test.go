package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEvery_FiresRepeatedlyUntilCancelled(t *testing.T) {
	sched := New(nil)
	defer sched.Stop()

	var fired atomic.Int64
	token := sched.Every("tick", 10*time.Millisecond, func(context.Context) {
		fired.Add(1)
	})
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 3 })

	sched.Cancel(token)
	settled := fired.Load()
	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got > settled+1 {
		t.Errorf("job kept firing after cancel: %d -> %d", settled, got)
	}
}

func TestAfter_FiresExactlyOnce(t *testing.T) {
	sched := New(nil)
	defer sched.Stop()

	var fired atomic.Int64
	sched.After("once", 10*time.Millisecond, func(context.Context) {
		fired.Add(1)
	})

	waitFor(t, 2*time.Second, func() bool { return fired.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("expected exactly one firing, got %d", got)
	}
}

func TestAfter_CancelledBeforeFiring(t *testing.T) {
	sched := New(nil)
	defer sched.Stop()

	var fired atomic.Int64
	token := sched.After("never", time.Hour, func(context.Context) {
		fired.Add(1)
	})
	sched.Cancel(token)
	// 重复取消与取消未知 Token 都应是空操作
	sched.Cancel(token)
	sched.Cancel(Token("unknown"))

	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("cancelled job must not fire")
	}
}

func TestStop_WaitsForRunningCallback(t *testing.T) {
	sched := New(nil)

	started := make(chan struct{})
	var done atomic.Bool
	sched.After("slow", 0, func(context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		done.Store(true)
	})

	<-started
	sched.Stop()
	if !done.Load() {
		t.Error("Stop returned before the running callback finished")
	}
}

func TestRegisterAfterStop_IsIgnored(t *testing.T) {
	sched := New(nil)
	sched.Stop()

	var fired atomic.Int64
	token := sched.Every("late", time.Millisecond, func(context.Context) {
		fired.Add(1)
	})
	if token != "" {
		t.Errorf("expected empty token after Stop, got %q", token)
	}
	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("job registered after Stop must not run")
	}
}
