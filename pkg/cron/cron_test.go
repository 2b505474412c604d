package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webos-run/webos/pkg/vfs"
)

func TestParse5Field(t *testing.T) {
	s, err := Parse("30 4 1 1 0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Second != nil {
		t.Fatal("expected 5-field schedule to have nil Second")
	}
	if !s.MatchDate(time.Date(2026, 1, 1, 4, 30, 0, 0, time.UTC)) {
		t.Fatal("expected match")
	}
}

func TestParse6FieldPrefersSixOverFive(t *testing.T) {
	s, err := Parse("15 30 4 1 1 0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Second == nil {
		t.Fatal("expected 6-field schedule to set Second")
	}
	if !s.MatchDate(time.Date(2026, 1, 1, 4, 30, 15, 0, time.UTC)) {
		t.Fatal("expected match at second 15")
	}
	if s.MatchDate(time.Date(2026, 1, 1, 4, 30, 16, 0, time.UTC)) {
		t.Fatal("expected no match at second 16")
	}
}

func TestParseStepAndRange(t *testing.T) {
	s, err := Parse("*/15 9-17 * * 1-5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !s.MatchDate(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)) { // Monday
		t.Fatal("expected match")
	}
	if s.MatchDate(time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)) {
		t.Fatal("expected no match off-step")
	}
}

func TestSetClearListGetCron(t *testing.T) {
	sched := New(vfs.New(), nil)
	if err := sched.SetCron("cron:user:1", "* * * * *", func(context.Context) error { return nil }, nil); err != nil {
		t.Fatalf("setCron: %v", err)
	}
	if names := sched.ListCrons(); len(names) != 1 || names[0] != "cron:user:1" {
		t.Fatalf("got %v", names)
	}
	if _, ok := sched.GetCron("cron:user:1"); !ok {
		t.Fatal("expected job present")
	}
	sched.ClearCron("cron:user:1")
	if len(sched.ListCrons()) != 0 {
		t.Fatal("expected job removed")
	}
}

func TestTickInvokesMatchingJobAndSkipsOverlap(t *testing.T) {
	sched := New(vfs.New(), nil)
	var calls int32
	var wg sync.WaitGroup
	wg.Add(1)
	block := make(chan struct{})
	sched.SetCron("slow", "* * * * *", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		wg.Done()
		<-block
		return nil
	}, nil)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	go sched.tick(context.Background(), now)
	wg.Wait()

	sched.tick(context.Background(), now) // should skip, previous still running
	close(block)
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 invocation (overlap skipped), got %d", calls)
	}
}

func TestReloadParsesCrontabWithCanonicalNames(t *testing.T) {
	fs := vfs.New()
	root := vfs.Credentials{UID: 0, GID: 0}
	fs.Mkdir("/etc", true, root)
	fs.WriteFile("/etc/crontab", []byte("* * * * * echo hi\n# comment\n"), root)
	fs.Mkdir("/home/alice/.config", true, root)
	fs.WriteFile("/home/alice/.config/crontab", []byte("0 0 * * * echo midnight\n"), root)

	sched := New(fs, nil)
	var dispatched []string
	err := sched.Reload("/home/alice", root, func(cmd string) error {
		dispatched = append(dispatched, cmd)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	names := sched.ListCrons()
	if len(names) != 2 {
		t.Fatalf("expected 2 jobs, got %v", names)
	}
	foundSystem, foundUser := false, false
	for _, n := range names {
		if n == "cron:system:1" {
			foundSystem = true
		}
		if n == "cron:user:1" {
			foundUser = true
		}
	}
	if !foundSystem || !foundUser {
		t.Fatalf("expected canonical names, got %v", names)
	}
}
