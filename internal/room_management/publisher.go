package room_management

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"coderoom/internal/utils"
)

const (
	RoomCreated = "room_created"
	RoomClosed  = "room_closed"
)

// RoomEvent announces a room lifecycle change to external listeners.
type RoomEvent struct {
	Type       string    `json:"type"`
	RoomID     string    `json:"roomId"`
	CreatedAt  time.Time `json:"createdAt"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instanceId"`
}

// Publisher must not block the caller.
type Publisher interface {
	Publish(event RoomEvent)
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(RoomEvent) {}
func (NopPublisher) Close() error      { return nil }

// RedisPublisher forwards room events to a Redis pub/sub channel from a
// background goroutine. Events are dropped when the queue is full.
type RedisPublisher struct {
	rdb        *redis.Client
	channel    string
	instanceID string
	log        *utils.Logger
	queue      chan RoomEvent
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

func NewRedisPublisher(redisAddr, channel string, log *utils.Logger) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	p := &RedisPublisher{
		rdb:        rdb,
		channel:    channel,
		instanceID: uuid.New().String(),
		log:        log,
		queue:      make(chan RoomEvent, 128),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *RedisPublisher) InstanceID() string { return p.instanceID }

func (p *RedisPublisher) Publish(event RoomEvent) {
	event.InstanceID = p.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case <-p.stop:
	case p.queue <- event:
	default:
		p.log.Warn("room event dropped", "type", event.Type, "room", event.RoomID)
	}
}

func (p *RedisPublisher) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			p.drain()
			return
		case ev := <-p.queue:
			p.send(ev)
		}
	}
}

func (p *RedisPublisher) drain() {
	for {
		select {
		case ev := <-p.queue:
			p.send(ev)
		default:
			return
		}
	}
}

func (p *RedisPublisher) send(ev RoomEvent) {
	if err := p.publish(ev); err != nil {
		p.log.Error("room event publish failed", "type", ev.Type, "room", ev.RoomID, "error", err.Error())
	}
}

func (p *RedisPublisher) publish(ev RoomEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal room event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish room event: %w", err)
	}
	return nil
}

// Close flushes queued events and closes the Redis client.
func (p *RedisPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done
		err = p.rdb.Close()
	})
	return err
}
