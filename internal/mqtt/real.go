package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/sensor-sampler/internal/bank"
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	Buffer   int // messages kept while disconnected
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are kept in a ring buffer and replayed in order once
// it comes back.
type RealPublisher struct {
	client paho.Client

	mu        sync.Mutex
	buffer    *ringBuffer
	connected bool // a connection has been established at least once
}

// NewRealPublisher creates a publisher for the given broker. If the broker is
// not reachable within the connect timeout the publisher is still returned;
// paho keeps retrying in the background and messages are buffered meanwhile.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Broker == "" {
		return nil, fmt.Errorf("no broker configured")
	}

	p := &RealPublisher{buffer: newRingBuffer(o.Buffer)}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(willPayload()), 1, false).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, buffering", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

func newPublisher(client paho.Client, buffer int) *RealPublisher {
	return &RealPublisher{client: client, buffer: newRingBuffer(buffer)}
}

// Publish sends a committed value to the MQTT broker.
func (p *RealPublisher) Publish(c bank.Commit) error {
	payload, err := FormatPayload(c)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.send(bufferedMsg{topic: TopicReadings, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buffer.push(msg)
		p.mu.Unlock()
		return nil
	}

	if err := p.publish(msg); err != nil {
		p.mu.Lock()
		p.buffer.push(msg)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// onConnect replays buffered messages and announces reconnections.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	msgs, dropped := p.buffer.drainAll()
	reconnect := p.connected
	p.connected = true
	p.mu.Unlock()

	if len(msgs) > 0 || dropped > 0 {
		log.Printf("mqtt: replaying %d buffered messages (%d dropped)", len(msgs), dropped)
	}
	for i, msg := range msgs {
		if err := p.publish(msg); err != nil {
			log.Printf("mqtt: replay error: %v", err)
			p.mu.Lock()
			for _, rest := range msgs[i:] {
				p.buffer.push(rest)
			}
			p.mu.Unlock()
			return
		}
	}

	if reconnect {
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: EventReconnected}); err != nil {
			log.Printf("mqtt: publish error: %v", err)
		}
	}
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
