package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gemini-chat/internal/domain"
)

const redisUnlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker implementa ConversationLocker con un lease SET NX PX, para
// despliegues con mas de una instancia del servicio. El lease expira solo
// por si el proceso muere con el lock tomado.
type RedisLocker struct {
	client redisLockClient
	lease  time.Duration
	retry  time.Duration
	prefix string
}

type redisLockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// NewRedisLocker devuelve la interfaz y no el tipo concreto: con client nil
// el retorno es un nil de interfaz de verdad, asi el chequeo locks != nil
// del servicio funciona.
func NewRedisLocker(client *redis.Client, lease time.Duration) ConversationLocker {
	if client == nil {
		return nil
	}
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &RedisLocker{
		client: client,
		lease:  lease,
		retry:  50 * time.Millisecond,
		prefix: "conv:lock:",
	}
}

func (l *RedisLocker) Lock(ctx context.Context, conversationID string) (func(), error) {
	key := l.prefix + conversationID
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: acquire lock: %w", domain.ErrStorage, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	release := func() {
		// Libera solo si el lock sigue siendo nuestro; un lease expirado
		// pudo haber sido tomado por otra instancia.
		relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.client.Eval(relCtx, redisUnlockScript, []string{key}, token).Err()
	}
	return release, nil
}
