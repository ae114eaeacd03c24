package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/sofmeright/freightqueue/src/build"
)

func snapshot(id string, st build.Status) build.Snapshot {
	return build.Snapshot{
		ID:       id,
		Repo:     "registry.example.com/app",
		Status:   st,
		QueuedAt: time.Unix(1700000000, 0),
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	errB := errors.New("b down")
	var calls int
	count := PublisherFunc(func(context.Context, build.Snapshot) error {
		calls++
		return nil
	})
	fail := func(err error) Publisher {
		return PublisherFunc(func(context.Context, build.Snapshot) error { return err })
	}

	m := Multi{fail(errA), count, fail(errB), count}
	err := m.Publish(context.Background(), snapshot("j1", build.StatusQueued))
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("error = %v, want both failures joined", err)
	}
	if calls != 2 {
		t.Errorf("healthy publishers called %d times, want 2", calls)
	}

	if err := (Multi{count}).Publish(context.Background(), snapshot("j1", build.StatusQueued)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	p := &Log{Logger: logrus.NewEntry(logger)}
	s := snapshot("j1", build.StatusFailure)
	s.Error = "push denied"
	if err := p.Publish(context.Background(), s); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decoding log line %q: %v", buf.String(), err)
	}
	if line["job"] != "j1" || line["status"] != "failure" || line["error"] != "push denied" {
		t.Errorf("log fields = %v", line)
	}
	if line["level"] != "warning" {
		t.Errorf("level = %v, want warning", line["level"])
	}
}

func TestHubFiltersByJob(t *testing.T) {
	h := NewHub(4)
	all, cancelAll := h.Subscribe("")
	defer cancelAll()
	one, cancelOne := h.Subscribe("j2")
	defer cancelOne()

	ctx := context.Background()
	h.Publish(ctx, snapshot("j1", build.StatusQueued))
	h.Publish(ctx, snapshot("j2", build.StatusBuilding))

	if got := (<-all).ID; got != "j1" {
		t.Errorf("first update for all = %s, want j1", got)
	}
	if got := (<-all).ID; got != "j2" {
		t.Errorf("second update for all = %s, want j2", got)
	}
	select {
	case s := <-one:
		if s.ID != "j2" || s.Status != build.StatusBuilding {
			t.Errorf("filtered update = %+v", s)
		}
	default:
		t.Fatal("j2 subscriber got nothing")
	}
	select {
	case s := <-one:
		t.Errorf("unexpected extra update %+v", s)
	default:
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe("")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(context.Background(), snapshot("j1", build.StatusBuilding))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(ch) != 1 {
		t.Errorf("buffered = %d, want 1", len(ch))
	}

	cancel()
	cancel()
	if h.Subscribers() != 0 {
		t.Errorf("subscribers = %d after cancel", h.Subscribers())
	}
	<-ch
	if _, ok := <-ch; ok {
		t.Error("channel not closed after cancel")
	}
}

// captureHook records commands and aborts them before any connection is
// made.
type captureHook struct {
	cmds []redis.Cmder
}

var errCaptured = errors.New("captured")

func (h *captureHook) BeforeProcess(ctx context.Context, cmd redis.Cmder) (context.Context, error) {
	h.cmds = append(h.cmds, cmd)
	return ctx, errCaptured
}

func (h *captureHook) AfterProcess(context.Context, redis.Cmder) error { return nil }

func (h *captureHook) BeforeProcessPipeline(ctx context.Context, cmds []redis.Cmder) (context.Context, error) {
	h.cmds = append(h.cmds, cmds...)
	return ctx, errCaptured
}

func (h *captureHook) AfterProcessPipeline(context.Context, []redis.Cmder) error { return nil }

func TestRedisPublishPipeline(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	hook := &captureHook{}
	client.AddHook(hook)

	r := NewRedis(client, RedisOptions{KeyPrefix: "fq", Channel: "fq:events", TTL: time.Hour})
	r.now = func() time.Time { return time.Unix(1700003600, 0) }
	err := r.Publish(context.Background(), snapshot("j1", build.StatusSuccess))
	if !errors.Is(err, errCaptured) {
		t.Fatalf("Publish error = %v, want captured", err)
	}

	byName := map[string][]any{}
	for _, c := range hook.cmds {
		byName[c.Name()] = c.Args()
	}

	set, ok := byName["set"]
	if !ok {
		t.Fatalf("no SET in pipeline: %v", hook.cmds)
	}
	if set[1] != "fq:build:j1" {
		t.Errorf("SET key = %v", set[1])
	}
	var stored build.Snapshot
	if err := json.Unmarshal(set[2].([]byte), &stored); err != nil {
		t.Fatalf("SET value: %v", err)
	}
	if stored.ID != "j1" || stored.Status != build.StatusSuccess {
		t.Errorf("stored snapshot = %+v", stored)
	}

	zadd, ok := byName["zadd"]
	if !ok || zadd[1] != "fq:builds:by_date" {
		t.Errorf("ZADD = %v", zadd)
	}
	trim, ok := byName["zremrangebyscore"]
	if want := []any{"zremrangebyscore", "fq:builds:by_date", "-inf", "(1700000000"}; !ok || !reflect.DeepEqual(trim, want) {
		t.Errorf("ZREMRANGEBYSCORE = %v, want %v", trim, want)
	}
	pub, ok := byName["publish"]
	if !ok || pub[1] != "fq:events" {
		t.Errorf("PUBLISH = %v", pub)
	}
}

func TestRedisRecentReadsIndexWithinTTL(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	hook := &captureHook{}
	client.AddHook(hook)

	r := NewRedis(client, RedisOptions{KeyPrefix: "fq", TTL: time.Hour})
	r.now = func() time.Time { return time.Unix(1700003600, 0) }

	if _, err := r.Recent(context.Background(), 20); !errors.Is(err, errCaptured) {
		t.Fatalf("Recent error = %v, want captured", err)
	}
	if len(hook.cmds) != 1 {
		t.Fatalf("commands = %v, want one index read", hook.cmds)
	}
	want := []any{"zrevrangebyscore", "fq:builds:by_date", "+inf", "1700000000", "limit", int64(0), int64(20)}
	if got := hook.cmds[0].Args(); !reflect.DeepEqual(got, want) {
		t.Errorf("index read = %v, want %v", got, want)
	}

	if snaps, err := r.Recent(context.Background(), 0); snaps != nil || err != nil {
		t.Errorf("Recent(0) = %v, %v", snaps, err)
	}
}

func TestRedisWithoutChannelSkipsPublish(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	hook := &captureHook{}
	client.AddHook(hook)

	r := NewRedis(client, RedisOptions{})
	r.Publish(context.Background(), snapshot("j1", build.StatusQueued))

	for _, c := range hook.cmds {
		if c.Name() == "publish" {
			t.Error("PUBLISH issued without a channel")
		}
		if c.Name() == "set" && !strings.HasPrefix(c.Args()[1].(string), "freightqueue:") {
			t.Errorf("default prefix not applied: %v", c.Args())
		}
	}
}
