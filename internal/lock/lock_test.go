package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNilLocker(t *testing.T) {
	var l *Locker

	_, ok, err := l.TryLock(context.Background(), "meter:pipeline", time.Minute)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.NoError(t, l.Release(context.Background(), "meter:pipeline", "token"))
	assert.Nil(t, NewLocker(nil))
}

func TestTryLockValidatesArguments(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	l := NewLocker(client)

	_, _, err := l.TryLock(context.Background(), "", time.Minute)
	assert.EqualError(t, err, "lock key is empty")

	_, _, err = l.TryLock(context.Background(), "meter:pipeline", 0)
	assert.EqualError(t, err, "lock ttl must be positive")

	assert.NoError(t, l.Release(context.Background(), "meter:pipeline", ""))
}
