// Package sinctelemetry is an optional, standalone MQTT republisher for
// decoded SINC results. It plays the role of the "parent application"
// spec.md §1 treats as an external collaborator: it has no import of
// sincproject and no special access to sinc.Connection, only the public
// HistogramResult/CalibrationPayload types and a channel a caller feeds.
//
// Grounded on the teacher's mqtt_publisher.go: same client-option shape
// (TLS, auto-reconnect, retry interval), same connect/publish/disconnect
// flow, adapted from a Prometheus-gathering ticker loop to a channel-driven
// one since there's nothing here to scrape.
package sinctelemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/cwsl/gosinc/sinc"
)

// Config holds broker connection settings, mirroring the teacher's
// MQTTConfig/MQTTTLSConfig field set.
type Config struct {
	Broker      string
	ClientID    string // generated from uuid if empty
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool
	TLS         TLSConfig
}

// TLSConfig mirrors the teacher's MQTTTLSConfig.
type TLSConfig struct {
	Enabled    bool
	CACert     string
	ClientCert string
	ClientKey  string
}

// Event is what a caller sends on the channel passed to Publisher.Run. Exactly
// one of Histogram/Calibration is set.
type Event struct {
	ChannelID   int
	Histogram   *sinc.HistogramResult
	Calibration *sinc.CalibrationPayload
}

// Publisher republishes Events as JSON to MQTT topics under Config.TopicPrefix.
type Publisher struct {
	client mqtt.Client
	config Config
}

// histogramPayload is the JSON shape published for a histogram event: raw
// counts are summarized rather than republished in full, since spectra are
// large and the telemetry consumer wants a cheap-to-scan rollup.
type histogramPayload struct {
	Timestamp       int64    `json:"timestamp"`
	ChannelID       int      `json:"channel_id"`
	AcceptedPulses  uint64   `json:"accepted_pulses"`
	RejectedPulses  uint64   `json:"rejected_pulses"`
	InputCountRate  float64  `json:"input_count_rate"`
	OutputCountRate float64  `json:"output_count_rate"`
	DeadTimePercent float64  `json:"dead_time_percent"`
	AcceptedMean    *float64 `json:"accepted_mean,omitempty"`
	RejectedMean    *float64 `json:"rejected_mean,omitempty"`
}

// calibrationPayload is the JSON shape published for a calibration event.
type calibrationPayload struct {
	Timestamp  int64    `json:"timestamp"`
	ChannelID  int      `json:"channel_id"`
	ExampleLen int      `json:"example_len"`
	ModelLen   int      `json:"model_len"`
	FinalLen   int      `json:"final_len"`
	FinalMean  *float64 `json:"final_mean,omitempty"`
}

// loadTLSConfig builds a *tls.Config from TLSConfig, identical in shape to
// the teacher's loadTLSConfig.
func loadTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	out := &tls.Config{}
	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("sinctelemetry: read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("sinctelemetry: parse CA cert")
		}
		out.RootCAs = pool
	}
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("sinctelemetry: load client cert: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

// NewPublisher connects to the configured broker and returns a ready
// Publisher. The connection is synchronous, matching the teacher's
// NewMQTTPublisher (fail fast if the broker is unreachable at startup).
func NewPublisher(config Config) (*Publisher, error) {
	if config.ClientID == "" {
		config.ClientID = "gosinc_" + uuid.New().String()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if config.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(config.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("sinctelemetry: connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("sinctelemetry: connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("sinctelemetry: reconnecting...")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("sinctelemetry: connect to %s: %w", config.Broker, token.Error())
	}

	return &Publisher{client: client, config: config}, nil
}

// Run drains events until ctx is canceled, publishing each as it arrives. The
// caller owns events and should close it (or cancel ctx) to stop Run.
func (p *Publisher) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.publishEvent(ev)
		}
	}
}

func (p *Publisher) publishEvent(ev Event) {
	now := time.Now().Unix()
	switch {
	case ev.Histogram != nil:
		p.publishHistogram(now, ev.ChannelID, *ev.Histogram)
	case ev.Calibration != nil:
		p.publishCalibration(now, ev.ChannelID, *ev.Calibration)
	}
}

func (p *Publisher) publishHistogram(ts int64, channelID int, r sinc.HistogramResult) {
	payload := histogramPayload{
		Timestamp:       ts,
		ChannelID:       channelID,
		AcceptedPulses:  r.Stats.AcceptedPulses,
		RejectedPulses:  r.Stats.RejectedPulses,
		InputCountRate:  r.Stats.InputCountRate,
		OutputCountRate: r.Stats.OutputCountRate,
		DeadTimePercent: r.Stats.DeadTimePercent,
	}
	if r.Derived != nil {
		payload.AcceptedMean = &r.Derived.AcceptedMean
		payload.RejectedMean = &r.Derived.RejectedMean
	}
	p.publish(fmt.Sprintf("%s/histogram/%d", p.config.TopicPrefix, channelID), payload)
}

func (p *Publisher) publishCalibration(ts int64, channelID int, cal sinc.CalibrationPayload) {
	payload := calibrationPayload{
		Timestamp:  ts,
		ChannelID:  channelID,
		ExampleLen: len(cal.Example.Y),
		ModelLen:   len(cal.Model.Y),
		FinalLen:   len(cal.Final.Y),
	}
	if cal.Derived != nil {
		payload.FinalMean = &cal.Derived.FinalMean
	}
	p.publish(fmt.Sprintf("%s/calibration/%d", p.config.TopicPrefix, channelID), payload)
}

func (p *Publisher) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("sinctelemetry: marshal payload for %s: %v", topic, err)
		return
	}
	token := p.client.Publish(topic, p.config.QoS, p.config.Retain, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("sinctelemetry: publish to %s: %v", topic, token.Error())
		}
	}()
}

// Disconnect gracefully closes the broker connection.
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Println("sinctelemetry: disconnected from broker")
	}
}
