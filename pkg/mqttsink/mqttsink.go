// Package mqttsink mirrors completed beacon cycles to an MQTT broker
package mqttsink

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fako1024/bthome/pkg/beacon"
	jsoniter "github.com/json-iterator/go"
)

const (
	defaultTopic          = "bthome/beacon"
	defaultClientID       = "bthome-beacon"
	defaultPublishTimeout = 5 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

var (

	// ErrNotConnected denotes that the sink is not connected to its broker
	ErrNotConnected = errors.New("mqtt client not connected")

	// ErrStopped denotes that the sink has been disconnected for good
	ErrStopped = errors.New("mqtt client stopped")
)

// Message denotes the JSON document published for every cycle
type Message struct {
	Device    string          `json:"device"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   string          `json:"payload"`
	Length    int             `json:"length"`
	Readings  beacon.Readings `json:"readings"`
}

// client denotes the subset of mqtt.Client used by the sink
type client interface {
	Connect() mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Sink denotes an MQTT publisher for beacon cycles
type Sink struct {
	broker   string
	topic    string
	clientID string
	device   string
	timeout  time.Duration

	connectTimeout time.Duration

	client client

	stopCh   chan struct{}
	stopOnce sync.Once

	logger beacon.Logger
}

// New instantiates a new Sink for the given broker URL, executing functional
// options, if any. The connection is established by Connect
func New(broker, device string, options ...func(*Sink)) (*Sink, error) {
	if broker == "" {
		return nil, errors.New("no MQTT broker specified")
	}

	s := &Sink{
		broker:   broker,
		device:   device,
		topic:    defaultTopic,
		clientID: defaultClientID,
		timeout:  defaultPublishTimeout,
		stopCh:   make(chan struct{}),
		logger:   &beacon.NullLogger{},

		connectTimeout: defaultConnectTimeout,
	}

	// Execute functional options (if any)
	for _, option := range options {
		option(s)
	}

	if s.client != nil {
		return s, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.broker)
	opts.SetClientID(s.clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.logger.Infof("connected to MQTT broker %s", s.broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warnf("lost connection to MQTT broker %s: %s", s.broker, err)
	})

	s.client = mqtt.NewClient(opts)

	return s, nil
}

// WithTopic sets the topic cycles are published on
func WithTopic(topic string) func(*Sink) {
	return func(s *Sink) {
		s.topic = topic
	}
}

// WithClientID sets the MQTT client identifier
func WithClientID(id string) func(*Sink) {
	return func(s *Sink) {
		s.clientID = id
	}
}

// WithPublishTimeout sets the maximum time to wait for a publish acknowledgement
func WithPublishTimeout(timeout time.Duration) func(*Sink) {
	return func(s *Sink) {
		s.timeout = timeout
	}
}

// WithConnectTimeout sets how long Connect waits for the initial connection.
// The client keeps retrying in the background afterwards
func WithConnectTimeout(timeout time.Duration) func(*Sink) {
	return func(s *Sink) {
		s.connectTimeout = timeout
	}
}

// WithLogger sets a logger
func WithLogger(logger beacon.Logger) func(*Sink) {
	return func(s *Sink) {
		s.logger = logger
	}
}

// Connect establishes the broker connection, waiting for the initial attempt
// to complete, the connect timeout to elapse or the context to be done
func (s *Sink) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	token := s.client.Connect()
	for {
		if token.WaitTimeout(200 * time.Millisecond) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("failed to connect to MQTT broker %s: %w", s.broker, err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return ErrStopped
		default:
		}
	}
}

// Publish sends a single cycle to the broker
func (s *Sink) Publish(cycle beacon.Cycle) error {
	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}
	if !s.client.IsConnected() {
		return ErrNotConnected
	}

	data, err := jsoniter.Marshal(NewMessage(s.device, cycle))
	if err != nil {
		return fmt.Errorf("failed to marshal cycle %d: %w", cycle.Sequence, err)
	}

	token := s.client.Publish(s.topic, 1, false, data)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish timeout for topic %s", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish cycle %d: %w", cycle.Sequence, err)
	}

	return nil
}

// Handler returns a function suitable for beacon.SetCycleHandler, logging
// publishing errors instead of returning them
func (s *Sink) Handler() func(cycle beacon.Cycle) {
	return func(cycle beacon.Cycle) {
		if err := s.Publish(cycle); err != nil {
			s.logger.Warnf("failed to mirror cycle %d to MQTT: %s", cycle.Sequence, err)
		}
	}
}

// Close disconnects from the broker. It may be called multiple times
func (s *Sink) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.client.Disconnect(250)
	})

	return nil
}

// NewMessage converts a cycle into its published representation
func NewMessage(device string, cycle beacon.Cycle) Message {
	return Message{
		Device:    device,
		Sequence:  cycle.Sequence,
		Timestamp: cycle.TimeStamp,
		Payload:   hex.EncodeToString(cycle.Payload),
		Length:    len(cycle.Payload),
		Readings:  cycle.Readings,
	}
}
