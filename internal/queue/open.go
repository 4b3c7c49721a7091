package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"entrytracker/internal/config"
)

// Open builds the queue selected by cfg.QueueBackend. The returned close func
// is never nil.
func Open(cfg config.App, client *redis.Client, clientID string) (Queue, func(), error) {
	switch cfg.QueueBackend {
	case "", "memory":
		return NewInMemory(256), func() {}, nil
	case "redis":
		if client == nil {
			return nil, nil, fmt.Errorf("redis queue requires REDIS_ADDR")
		}
		return NewRedisQueue(client, "entrytracker:entries"), func() {}, nil
	case "mqtt":
		q, err := NewMQTTQueue(MQTTOptions{
			Broker:   cfg.MQTTBroker,
			ClientID: clientID,
			Topic:    cfg.MQTTTopic,
			QoS:      1,
		})
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}
