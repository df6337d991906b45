package asyncx

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownTopic is returned when enqueueing to a topic that was never registered.
var ErrUnknownTopic = errors.New("asyncx: unknown topic")

// BackoffKind selects how retry delays grow between attempts.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// TopicConfig is the execution policy of one topic. Every topic is backed by
// an asynq queue of the same name.
type TopicConfig struct {
	Name        string
	MaxAttempts int
	Backoff     BackoffKind
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Concurrency caps in-flight jobs of this topic per processor (0 = no cap).
	Concurrency int
	// Pace is the minimum interval between two job starts of this topic.
	Pace time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// Priority is the asynq queue weight.
	Priority int
}

func (c TopicConfig) withDefaults() TopicConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff == "" {
		c.Backoff = BackoffExponential
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 10 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.Priority <= 0 {
		c.Priority = 1
	}
	return c
}

// RetryDelay returns the wait before the next attempt, given how many times
// the job has already been retried.
func (c TopicConfig) RetryDelay(retried int) time.Duration {
	if c.Backoff == BackoffFixed {
		return c.BackoffBase
	}
	if retried < 0 {
		retried = 0
	}
	d := c.BackoffBase
	for i := 0; i < retried; i++ {
		d *= 2
		if d >= c.BackoffMax || d <= 0 {
			return c.BackoffMax
		}
	}
	if d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}

// Topics is the immutable set of registered topics shared by Client and Processor.
type Topics struct {
	byName map[string]TopicConfig
}

// NewTopics validates the given configs and fills in defaults.
func NewTopics(cfgs ...TopicConfig) (*Topics, error) {
	t := &Topics{byName: make(map[string]TopicConfig, len(cfgs))}
	for _, c := range cfgs {
		if c.Name == "" {
			return nil, errors.New("asyncx: topic name is required")
		}
		if _, dup := t.byName[c.Name]; dup {
			return nil, fmt.Errorf("asyncx: topic %q registered twice", c.Name)
		}
		t.byName[c.Name] = c.withDefaults()
	}
	return t, nil
}

// Get returns the config of a registered topic.
func (t *Topics) Get(name string) (TopicConfig, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// Names returns the registered topic names in lexical order.
func (t *Topics) Names() []string {
	out := make([]string, 0, len(t.byName))
	for name := range t.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (t *Topics) queues() map[string]int {
	qs := make(map[string]int, len(t.byName))
	for name, c := range t.byName {
		qs[name] = c.Priority
	}
	return qs
}
