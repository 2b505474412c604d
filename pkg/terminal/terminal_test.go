package terminal

import (
	"testing"
	"time"
)

func TestGetInputStreamFanOut(t *testing.T) {
	term := New(80, 24)
	defer term.Close()

	ch1, cancel1 := term.GetInputStream()
	ch2, cancel2 := term.GetInputStream()
	defer cancel1()
	defer cancel2()

	term.Feed([]byte("a"))

	select {
	case got := <-ch1:
		if string(got) != "a" {
			t.Fatalf("sub1 got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("sub1 timed out waiting for input")
	}
	select {
	case got := <-ch2:
		if string(got) != "a" {
			t.Fatalf("sub2 got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("sub2 timed out waiting for input")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	term := New(80, 24)
	defer term.Close()

	ch, cancel := term.GetInputStream()
	cancel()
	term.Feed([]byte("x"))

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected no delivery after cancel")
		}
	default:
	}
}

func TestInterruptPublishedOnCtrlC(t *testing.T) {
	term := New(80, 24)
	defer term.Close()

	events, cancel := term.Subscribe()
	defer cancel()

	term.Feed([]byte{0x03})

	select {
	case ev := <-events:
		if ev.Kind != EventInterrupt {
			t.Fatalf("expected EventInterrupt, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interrupt event")
	}
}

func TestOnKeyDispatch(t *testing.T) {
	term := New(80, 24)
	defer term.Close()

	seen := make(chan KeyEvent, 4)
	term.OnKey(func(ev KeyEvent) { seen <- ev })
	term.Feed([]byte("\r"))

	select {
	case ev := <-seen:
		if ev.Name != "enter" {
			t.Fatalf("expected enter key, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for key event")
	}
}

func TestListenUnlisten(t *testing.T) {
	term := New(80, 24)
	defer term.Close()

	if !term.Listening() {
		t.Fatal("expected terminal to start listening")
	}
	term.Unlisten()
	if term.Listening() {
		t.Fatal("expected Unlisten to suspend line discipline")
	}
	term.Listen()
	if !term.Listening() {
		t.Fatal("expected Listen to resume line discipline")
	}
}

func TestHistoryAppend(t *testing.T) {
	term := New(80, 24)
	defer term.Close()

	term.AppendHistory("ls -la")
	term.AppendHistory("cd /tmp")
	hist := term.History()
	if len(hist) != 2 || hist[0] != "ls -la" || hist[1] != "cd /tmp" {
		t.Fatalf("got %v", hist)
	}
}

func TestWriteAndSnapshot(t *testing.T) {
	term := New(80, 24)
	defer term.Close()

	term.Writeln("hello")
	snap := term.Snapshot()
	if len(snap) == 0 {
		t.Fatal("expected non-empty snapshot")
	}
}

func TestResizePropagatesToVTerm(t *testing.T) {
	term := New(80, 24)
	defer term.Close()

	events, cancel := term.Subscribe()
	defer cancel()
	term.Resize(100, 40)

	if term.Cols() != 100 || term.Rows() != 40 {
		t.Fatalf("got cols=%d rows=%d", term.Cols(), term.Rows())
	}
	select {
	case ev := <-events:
		if ev.Kind != EventResize || ev.Cols != 100 || ev.Rows != 40 {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resize event")
	}
}
