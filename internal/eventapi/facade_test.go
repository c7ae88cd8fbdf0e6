package eventapi

import (
	"context"
	"testing"
	"time"

	"github.com/flowforge/actrt/internal/broker"
	"github.com/flowforge/actrt/internal/domain"
)

func TestPublishAndOn(t *testing.T) {
	b := broker.New()
	f := New(b)

	var got []string
	f.On("activity.*", func(routingKey string, content domain.Content) {
		got = append(got, routingKey)
	})

	f.PublishEvent("activity.enter", domain.Content{})
	f.PublishEvent("activity.end", domain.Content{})
	f.PublishEvent("compensation.start", domain.Content{})

	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %v", got)
	}
}

func TestOnceFiresOnlyOnce(t *testing.T) {
	b := broker.New()
	f := New(b)

	count := 0
	f.Once("activity.wait", func(string, domain.Content) { count++ })

	f.PublishEvent("activity.wait", domain.Content{})
	f.PublishEvent("activity.wait", domain.Content{})

	if count != 1 {
		t.Fatalf("expected exactly one delivery, got %d", count)
	}
}

func TestWaitForMatchesFilter(t *testing.T) {
	b := broker.New()
	f := New(b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resultCh := make(chan domain.Content, 1)
	go func() {
		c, err := f.WaitFor(ctx, "activity.end", func(content domain.Content) bool {
			return content["output"] != nil
		})
		if err == nil {
			resultCh <- c
		}
	}()

	time.Sleep(10 * time.Millisecond)
	f.PublishEvent("activity.end", domain.Content{})
	f.PublishEvent("activity.end", domain.Content{"output": 42})

	select {
	case c := <-resultCh:
		if c["output"] != 42 {
			t.Errorf("expected output=42, got %v", c["output"])
		}
	case <-time.After(time.Second):
		t.Fatal("WaitFor did not return in time")
	}
}

func TestEmitFatalWithNoListenerReachesSink(t *testing.T) {
	b := broker.New()
	f := New(b)

	var gotErr error
	f.OnFatal(func(err error, content domain.Content) {
		gotErr = err
	})

	f.EmitFatal(errBoom{}, domain.Content{})
	if gotErr == nil {
		t.Fatal("expected fatal error to reach sink")
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
