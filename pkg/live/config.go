package live

import (
	"fmt"
	"net/url"
	"time"

	"github.com/teslashibe/go-overlay/pkg/live/detect"
)

// Source selects where live detections come from.
type Source string

const (
	SourceNone      Source = "none"
	SourceDetector  Source = "detector"
	SourceWebSocket Source = "websocket"
	SourceMQTT      Source = "mqtt"
)

// MQTTConfig holds broker settings for MQTTFeed.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // e.g. tcp://localhost:1883
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// Config holds live-detection settings.
type Config struct {
	Source       Source        `yaml:"source"`
	Interval     time.Duration `yaml:"interval"`
	Detector     detect.Config `yaml:"detector"`
	WebSocketURL string        `yaml:"websocket_url"`
	MQTT         MQTTConfig    `yaml:"mqtt"`
}

// DefaultConfig returns live detection disabled.
func DefaultConfig() Config {
	return Config{
		Source:   SourceNone,
		Interval: 200 * time.Millisecond,
		Detector: detect.DefaultConfig(),
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			Topic:    "overlay/detections",
			ClientID: "go-overlay",
			QoS:      0,
		},
	}
}

// Validate returns a list of problems for the selected source only.
func (c Config) Validate() []string {
	var errs []string
	switch c.Source {
	case SourceNone, "":
	case SourceDetector:
		if c.Interval <= 0 {
			errs = append(errs, "live interval must be positive")
		}
		errs = append(errs, c.Detector.Validate()...)
	case SourceWebSocket:
		u, err := url.Parse(c.WebSocketURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("live websocket_url %q must be a ws:// or wss:// URL", c.WebSocketURL))
		}
	case SourceMQTT:
		if c.MQTT.Broker == "" {
			errs = append(errs, "live mqtt broker is required")
		}
		if c.MQTT.Topic == "" {
			errs = append(errs, "live mqtt topic is required")
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, "live mqtt qos must be 0, 1 or 2")
		}
	default:
		errs = append(errs, fmt.Sprintf("live source %q must be none, detector, websocket or mqtt", c.Source))
	}
	return errs
}
