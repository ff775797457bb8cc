package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/helpdesk-service/internal/config"
)

func TestAsynqOptions(t *testing.T) {
	assert.Nil(t, asynqOptions(nil))

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	opts := asynqOptions([]EnqueueOption{{ProcessAt: at, ProcessIn: time.Hour, Queue: "default", MaxRetry: 3}})
	// ProcessAt wins over ProcessIn, so three options rather than four.
	assert.Len(t, opts, 3)

	opts = asynqOptions([]EnqueueOption{{ProcessIn: time.Minute}})
	assert.Len(t, opts, 1)
}

func TestRedisOptCopiesConfig(t *testing.T) {
	opt := RedisOpt(config.RedisConfig{Addr: "redis:6379", Password: "pw", DB: 2})
	assert.Equal(t, "redis:6379", opt.Addr)
	assert.Equal(t, "pw", opt.Password)
	assert.Equal(t, 2, opt.DB)
}

func TestEnqueueRequiresType(t *testing.T) {
	c := NewAsynqClient(config.RedisConfig{Addr: "127.0.0.1:1"})
	defer c.Close()
	_, err := c.Enqueue(context.Background(), Task{})
	assert.Error(t, err)
}
