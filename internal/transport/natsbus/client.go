package natsbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"followme.ai/internal/protocol"
)

type Client struct {
	conn *nats.Conn
}

func NewClient(bus *Bus) (*Client, error) {
	return NewClientFromURL(bus.ClientURL())
}

func NewClientFromURL(url string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("swarmsim"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(topic, data)
}

func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, handler)
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}

// Publisher reports a run on its subjects. It is a round sink for the driver.
type Publisher struct {
	c *Client
}

func NewPublisher(c *Client) *Publisher { return &Publisher{c: c} }

func (p *Publisher) Begin(h protocol.RunHeader) error {
	return p.c.PublishJSON(TopicRun(h.RunID), h)
}

func (p *Publisher) Round(m protocol.RoundMsg) error {
	return p.c.PublishJSON(TopicRound(m.RunID), m)
}

// End publishes DONE and flushes, so subscribers see the whole run once End returns.
func (p *Publisher) End(d protocol.DoneMsg) error {
	if err := p.c.PublishJSON(TopicDone(d.RunID), d); err != nil {
		return err
	}
	return p.c.Flush()
}
