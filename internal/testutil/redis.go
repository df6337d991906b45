package testutil

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
)

// StartMiniRedis runs an in-process Redis closed at test end.
func StartMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// RedisOpt points asynq at the given miniredis instance.
func RedisOpt(s *miniredis.Miniredis) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: s.Addr()}
}
