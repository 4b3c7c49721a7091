package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// MQTTQueue publishes messages to a broker topic, e.g. for door displays.
type MQTTQueue struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTQueue connects to the broker.
func NewMQTTQueue(opts MQTTOptions) (*MQTTQueue, error) {
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)
	co.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(co)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	return newMQTTQueue(client, opts.Topic, opts.QoS), nil
}

func newMQTTQueue(client mqtt.Client, topic string, qos byte) *MQTTQueue {
	if topic == "" {
		topic = "entrytracker/entries"
	}
	return &MQTTQueue{client: client, topic: topic, qos: qos}
}

// Publish sends the message to the configured topic.
func (q *MQTTQueue) Publish(ctx context.Context, msg Message) error {
	token := q.client.Publish(q.topic, q.qos, false, []byte(serialize(msg)))
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", q.topic, err)
	}
	return nil
}

// Consume subscribes to the topic until ctx is done.
func (q *MQTTQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message, 64)
	var mu sync.Mutex
	closed := false
	token := q.client.Subscribe(q.topic, q.qos, func(_ mqtt.Client, m mqtt.Message) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- deserialize(string(m.Payload())):
		case <-ctx.Done():
		}
	})
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", q.topic, token.Error())
	}
	go func() {
		<-ctx.Done()
		q.client.Unsubscribe(q.topic).WaitTimeout(time.Second)
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}

// Close disconnects from the broker.
func (q *MQTTQueue) Close() {
	q.client.Disconnect(250)
}
