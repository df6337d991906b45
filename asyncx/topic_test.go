package asyncx

import (
	"testing"
	"time"
)

func TestTopicConfig_RetryDelay(t *testing.T) {
	tc := TopicConfig{Name: "t", BackoffBase: time.Second, BackoffMax: 5 * time.Second}.withDefaults()
	cases := []struct {
		retried int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{40, 5 * time.Second},
	}
	for _, c := range cases {
		if got := tc.RetryDelay(c.retried); got != c.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", c.retried, got, c.want)
		}
	}

	fixed := TopicConfig{Name: "f", Backoff: BackoffFixed, BackoffBase: 3 * time.Second}.withDefaults()
	if got := fixed.RetryDelay(7); got != 3*time.Second {
		t.Fatalf("fixed RetryDelay = %v", got)
	}
}

func TestNewTopics(t *testing.T) {
	topics, err := NewTopics(TopicConfig{Name: "b"}, TopicConfig{Name: "a", MaxAttempts: 5})
	if err != nil {
		t.Fatalf("NewTopics: %v", err)
	}
	if names := topics.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected names: %v", names)
	}
	b, _ := topics.Get("b")
	if b.MaxAttempts != DefaultMaxAttempts || b.Timeout != 2*time.Minute || b.Priority != 1 {
		t.Fatalf("defaults not applied: %#v", b)
	}
	if _, ok := topics.Get("missing"); ok {
		t.Fatalf("unexpected topic")
	}

	if _, err := NewTopics(TopicConfig{Name: "a"}, TopicConfig{Name: "a"}); err == nil {
		t.Fatalf("expected duplicate topic error")
	}
	if _, err := NewTopics(TopicConfig{}); err == nil {
		t.Fatalf("expected empty name error")
	}
}
