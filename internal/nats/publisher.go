package natsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/vkd/internal/events"
)

// DefaultPrefix is the subject root used when none is configured.
const DefaultPrefix = "vkd.instances"

// Publisher relays instance notifications and workload commands onto NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	log    *zap.Logger
}

func NewPublisher(url, prefix string, log *zap.Logger) (*Publisher, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	opts := []nats.Option{
		nats.Name("vkd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, prefix: prefix, log: log}, nil
}

// EventsSubject carries every instance notification.
func EventsSubject(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ".events"
}

// CommandSubject carries the commands for one instance.
func CommandSubject(prefix, id string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "." + id + ".commands"
}

func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	return p.nc.Publish(subject, payload)
}

// Relay forwards notifications from sub until ctx is done. Failures are
// logged and the notification is dropped.
func (p *Publisher) Relay(ctx context.Context, sub *events.Subscription[events.Notification]) {
	subject := EventsSubject(p.prefix)
	events.Forward(ctx, sub, func(n events.Notification) {
		p.publishJSON(ctx, subject, n)
	})
}

// PublishCommand relays a workload command for instance id.
func (p *Publisher) PublishCommand(id string, cmd events.Command) {
	p.publishJSON(context.Background(), CommandSubject(p.prefix, id), map[string]events.Command{"command": cmd})
}

func (p *Publisher) publishJSON(ctx context.Context, subject string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Error("encode nats payload", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.Publish(ctx, subject, payload); err != nil {
		p.log.Warn("nats publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}
