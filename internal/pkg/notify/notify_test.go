package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"volunteerhub/internal/model"
	"volunteerhub/internal/pkg/dedup"
	"volunteerhub/internal/pkg/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, Message{To: to, Subject: subject, Body: body})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_DeliversAsync(t *testing.T) {
	logger := discardLogger()
	sender := &fakeSender{}
	q := queue.New(logger, 2, 8, time.Second)
	q.Start(context.Background())
	d := NewDispatcher(sender, q, nil, logger)

	d.Notify(Message{To: "a@example.com", Subject: "hello", Body: "<p>hi</p>"})
	if err := q.Drain(time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("expected 1 sent, got %d", sender.count())
	}
}

func TestDispatcher_SwallowsFailures(t *testing.T) {
	logger := discardLogger()
	sender := &fakeSender{err: errors.New("smtp down")}
	q := queue.New(logger, 1, 4, time.Second)
	q.Start(context.Background())
	d := NewDispatcher(sender, q, nil, logger)

	d.Notify(Message{To: "a@example.com", Subject: "s"})
	if err := q.Drain(time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := q.Stats().Failed; got != 1 {
		t.Fatalf("expected failed=1, got %d", got)
	}
}

func TestDispatcher_DropsWhenClosed(t *testing.T) {
	logger := discardLogger()
	sender := &fakeSender{}
	q := queue.New(logger, 1, 1, time.Second)
	_ = q.Drain(time.Second)
	d := NewDispatcher(sender, q, nil, logger)

	d.Notify(Message{To: "a@example.com", Subject: "s"})
	if sender.count() != 0 {
		t.Fatalf("closed queue must not deliver")
	}
	if q.Stats().Rejected != 1 {
		t.Fatalf("expected rejected=1, got %d", q.Stats().Rejected)
	}
}

func TestDispatcher_DedupSuppressesRepeat(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	logger := discardLogger()
	sender := &fakeSender{}
	q := queue.New(logger, 1, 8, time.Second)
	q.Start(context.Background())
	d := NewDispatcher(sender, q, dedup.NewDeduplicator(rdb, "notify", time.Minute), logger)

	msg := Message{To: "v@example.com", Subject: "accepted", DedupKey: "application:1:accepted"}
	d.Notify(msg)
	d.Notify(msg)
	d.Notify(Message{To: "v@example.com", Subject: "rejected", DedupKey: "application:1:rejected"})
	if err := q.Drain(time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sender.count() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", sender.count())
	}
}

func TestDispatcher_FailedSendReleasesDedupKey(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	dd := dedup.NewDeduplicator(rdb, "notify", time.Minute)
	d := NewDispatcher(&fakeSender{err: errors.New("boom")}, nil, dd, discardLogger())
	msg := Message{To: "v@example.com", Subject: "s", DedupKey: "k"}

	if err := d.deliver(context.Background(), msg); err == nil {
		t.Fatalf("expected send error")
	}
	first, err := dd.Claim(context.Background(), "k")
	if err != nil || !first {
		t.Fatalf("key should be released after failure: first=%v err=%v", first, err)
	}
}

func TestTemplates_EscapeUserContent(t *testing.T) {
	org := &model.User{ID: 7, Email: "org@example.com", OrgName: "Helpers <b>"}
	vol := &model.User{ID: 8, Email: "v@example.com", Name: "Vol"}
	opp := &model.Opportunity{ID: 3, Title: "Beach <script>", Status: model.OpportunityApproved}

	msg := ApplicationReceived(org, vol, opp, "I'd love to <help>")
	if msg.To != "org@example.com" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	if strings.Contains(msg.Body, "<script>") || strings.Contains(msg.Body, "<help>") {
		t.Fatalf("body must escape user content: %s", msg.Body)
	}

	app := &model.Application{ID: 5, Status: model.ApplicationAccepted}
	decided := ApplicationDecided(app, vol, opp)
	if decided.DedupKey != "application:5:accepted" {
		t.Fatalf("unexpected dedup key %q", decided.DedupKey)
	}

	mod := OrganizationModerated(org, model.ModerationVerified)
	if mod.DedupKey != "organization:7:verified" || mod.To != org.Email {
		t.Fatalf("unexpected moderation message %+v", mod)
	}
}

func TestEmailNotifier_SkipsWithoutConfig(t *testing.T) {
	n := NewEmailNotifier(nil, discardLogger())
	if n.Configured() {
		t.Fatalf("nil config must not be configured")
	}
	if err := n.Send(context.Background(), "a@example.com", "s", "b"); err != nil {
		t.Fatalf("missing config should skip silently: %v", err)
	}
}
