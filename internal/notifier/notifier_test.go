package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	fail  error
	block chan struct{} // if non-nil, SendText waits for it (or ctx)
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, target kit.ChatTarget, text string, opts *kit.SendOptions) (kit.MessageRef, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return kit.MessageRef{}, f.fail
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: target.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opts *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return nil
}

func (f *fakeAdapter) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestSendSynchronous(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	s := New(Config{}, ad, logx.Nop(), nil)

	err := s.Send(context.Background(), kit.Notification{
		Target: kit.ChatTarget{ChatID: 42},
		Text:   "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := ad.sentTexts(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("sent = %v", got)
	}
}

func TestSendPropagatesAdapterError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("telegram down")
	s := New(Config{}, &fakeAdapter{fail: wantErr}, logx.Nop(), nil)

	err := s.Send(context.Background(), kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "x"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestSendEmptyTextIsNoOp(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	s := New(Config{}, ad, logx.Nop(), nil)
	if err := s.Send(context.Background(), kit.Notification{Target: kit.ChatTarget{ChatID: 1}}); err != nil {
		t.Fatal(err)
	}
	if len(ad.sentTexts()) != 0 {
		t.Fatal("empty text should not be sent")
	}
}

func TestNotifyAsyncDelivery(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	s := New(Config{Workers: 1, RatePerSec: 100}, ad, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	if err := s.Notify(ctx, kit.Notification{Target: kit.ChatTarget{ChatID: 5}, Text: "queued"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := ad.sentTexts(); len(got) == 1 && got[0] == "queued" {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			s.Stop(sctx)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("queued notification never delivered")
}

func TestNotifyBeforeStartReturnsStopped(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeAdapter{}, logx.Nop(), nil)
	err := s.Notify(context.Background(), kit.Notification{Text: "x"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()

	// A blocked adapter plus queue size 1 makes the second enqueue fail
	// while the first notification occupies the worker.
	ad := &fakeAdapter{block: make(chan struct{})}
	defer close(ad.block)
	s := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 100}, ad, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	// First fills the worker, second fills the queue, third must be rejected.
	// Give the worker a moment to pick up the first.
	_ = s.Notify(ctx, kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "a"})
	time.Sleep(50 * time.Millisecond)
	_ = s.Notify(ctx, kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "b"})

	err := s.Notify(ctx, kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "c"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeAdapter{}, logx.Nop(), nil)
	ctx := context.Background()
	s.Start(ctx)
	s.Stop(ctx)
	s.Stop(ctx) // second stop must not panic

	if err := s.Notify(ctx, kit.Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after stop: %v", err)
	}
}
