package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-overlay/internal/log"
)

// MQTTFeed subscribes to a broker topic carrying detection batches.
type MQTTFeed struct {
	cfg    MQTTConfig
	out    *Mailbox
	client mqtt.Client
	logger *slog.Logger

	connected atomic.Bool
	batches   atomic.Uint64
	rejected  atomic.Uint64
}

// NewMQTTFeed creates a feed. Call Run to connect.
func NewMQTTFeed(cfg MQTTConfig, out *Mailbox) *MQTTFeed {
	return &MQTTFeed{
		cfg:    cfg,
		out:    out,
		logger: log.With("component", "live.mqtt", "broker", cfg.Broker, "topic", cfg.Topic),
	}
}

// Run connects, subscribes and blocks until ctx is cancelled. The paho
// client handles reconnection and resubscribes on every connect.
func (f *MQTTFeed) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(f.cfg.Broker)
	opts.SetClientID(f.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetCleanSession(true)

	opts.OnConnect = func(c mqtt.Client) {
		f.connected.Store(true)
		f.logger.Info("mqtt connection established", "client_id", f.cfg.ClientID)
		token := c.Subscribe(f.cfg.Topic, f.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
			f.handle(m.Payload())
		})
		if !token.WaitTimeout(5 * time.Second) {
			f.logger.Warn("mqtt subscribe timeout")
			return
		}
		if err := token.Error(); err != nil {
			f.logger.Warn("mqtt subscribe failed", "error", err)
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		f.connected.Store(false)
		f.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	}

	f.client = mqtt.NewClient(opts)
	f.logger.Info("connecting to mqtt broker")

	token := f.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	<-ctx.Done()
	f.client.Disconnect(250)
	f.connected.Store(false)
	f.logger.Info("mqtt disconnected")
	return ctx.Err()
}

func (f *MQTTFeed) handle(payload []byte) {
	dets, err := DecodeBatch(payload)
	if err != nil {
		f.rejected.Add(1)
		f.logger.Debug("rejected detection payload", "error", err)
		return
	}
	f.batches.Add(1)
	f.out.Put(dets)
}

// Stats returns feed counters.
func (f *MQTTFeed) Stats() FeedStats {
	return FeedStats{
		Connected: f.connected.Load(),
		Batches:   f.batches.Load(),
		Rejected:  f.rejected.Load(),
	}
}
