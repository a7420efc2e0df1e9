package connector

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGateResolveOnce(t *testing.T) {
	g := newGate()
	if !g.resolve() {
		t.Fatal("first resolve lost")
	}
	if g.fail(errors.New("late")) {
		t.Fatal("fail won after resolve")
	}
	if err := g.wait(context.Background()); err != nil {
		t.Fatalf("wait after resolve = %v", err)
	}
}

func TestGateFailSticks(t *testing.T) {
	g := newGate()
	if !g.fail(ErrChannelClosed) {
		t.Fatal("first fail lost")
	}
	if g.resolve() {
		t.Fatal("resolve won after fail")
	}
	if err := g.wait(context.Background()); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("wait = %v, want ErrChannelClosed", err)
	}
}

func TestGateWaitUnblocksOnSettle(t *testing.T) {
	g := newGate()
	go func() {
		time.Sleep(5 * time.Millisecond)
		g.resolve()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.wait(ctx); err != nil {
		t.Fatalf("wait = %v", err)
	}
}

func TestGateWaitContext(t *testing.T) {
	g := newGate()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("wait on cancelled ctx = %v", err)
	}
}

func TestSendQueueFIFO(t *testing.T) {
	q := newSendQueue()
	for i := int64(0); i < 3; i++ {
		q.push(outbound{id: i})
	}
	for want := int64(0); want < 3; want++ {
		o, ok := q.next()
		if !ok {
			t.Fatalf("queue closed early at %d", want)
		}
		if o.id != want {
			t.Fatalf("next id = %d, want %d", o.id, want)
		}
	}
}

func TestSendQueueBlocksUntilPush(t *testing.T) {
	q := newSendQueue()
	got := make(chan outbound, 1)
	go func() {
		o, _ := q.next()
		got <- o
	}()

	time.Sleep(5 * time.Millisecond)
	q.push(outbound{id: 42})

	select {
	case o := <-got:
		if o.id != 42 {
			t.Fatalf("id = %d, want 42", o.id)
		}
	case <-time.After(time.Second):
		t.Fatal("next never woke")
	}
}

func TestSendQueueCloseDrainsThenStops(t *testing.T) {
	q := newSendQueue()
	q.push(outbound{id: 0})
	q.close()

	if o, ok := q.next(); !ok || o.id != 0 {
		t.Fatal("item pushed before close was lost")
	}
	if _, ok := q.next(); ok {
		t.Fatal("next returned an item from a drained closed queue")
	}
	q.push(outbound{id: 1})
	if _, ok := q.next(); ok {
		t.Fatal("push after close was accepted")
	}
}
