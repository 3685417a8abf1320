// Package ami is a client for the Asterisk-compatible PBX Manager
// Interface: it maintains the TCP connection, logs in, decodes the
// newline-delimited key/value frame protocol, and fans out Events to
// subscribers while correlating outbound Actions with their Response
// frames by ActionID.
package ami

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axelmiami/callbridge/internal/config"
)

// Event is a single decoded AMI frame. Type is the "Event:" header for
// unsolicited events, or "" for a bare Response frame.
type Event struct {
	Type   string
	Fields map[string]string
}

// Client is a connection to the PBX Manager Interface.
type Client struct {
	cfg *config.AMI

	mu          sync.Mutex
	conn        net.Conn
	reader      *bufio.Reader
	writer      *bufio.Writer
	connected   bool
	subscribers []chan Event
	pending     map[string]chan Event

	done chan struct{}
}

// NewClient builds a Client for the given AMI settings. Connect must be
// called before use.
func NewClient(cfg *config.AMI) *Client {
	return &Client{
		cfg:     cfg,
		pending: make(map[string]chan Event),
		done:    make(chan struct{}),
	}
}

// Connect dials the PBX, authenticates, and starts the background read
// loop. On a subsequent read error it reconnects automatically using the
// configured backoff interval; live callers keep their Subscribe channel
// across reconnects.
func (c *Client) Connect() error {
	addr := c.cfg.Address()
	log.Printf("[AMI] connecting to %s", addr)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("ami: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = bufio.NewWriter(conn)
	c.mu.Unlock()

	// Banner line.
	if _, err := c.reader.ReadString('\n'); err != nil {
		conn.Close()
		return fmt.Errorf("ami: reading banner: %w", err)
	}

	if err := c.login(); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	log.Printf("[AMI] connected and authenticated")

	go c.readLoop()
	return nil
}

func (c *Client) login() error {
	action := fmt.Sprintf("Action: Login\r\nUsername: %s\r\nSecret: %s\r\n\r\n",
		c.cfg.Username, c.cfg.Secret)
	if _, err := c.writer.WriteString(action); err != nil {
		return fmt.Errorf("ami: login write: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("ami: login flush: %w", err)
	}

	resp, err := c.readFrame()
	if err != nil {
		return fmt.Errorf("ami: login response: %w", err)
	}
	if resp.Fields["Response"] != "Success" {
		return fmt.Errorf("ami: login rejected: %s", resp.Fields["Message"])
	}
	return nil
}

// readFrame reads one "Key: Value" block terminated by a blank line.
func (c *Client) readFrame() (*Event, error) {
	fields := make(map[string]string)
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ": ")
		if ok {
			fields[key] = value
		}
	}
	return &Event{Type: fields["Event"], Fields: fields}, nil
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		frame, err := c.readFrame()
		if err != nil {
			log.Printf("[AMI] read error: %v", err)
			c.reconnect()
			return
		}
		c.dispatch(*frame)
	}
}

func (c *Client) dispatch(frame Event) {
	if actionID := frame.Fields["ActionID"]; actionID != "" && frame.Type == "" {
		c.mu.Lock()
		ch, ok := c.pending[actionID]
		if ok {
			delete(c.pending, actionID)
		}
		c.mu.Unlock()
		if ok {
			ch <- frame
			return
		}
	}

	if frame.Type == "" {
		return // bare response with no waiter; drop
	}

	c.mu.Lock()
	subs := make([]chan Event, len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- frame:
		default:
			log.Printf("[AMI] subscriber buffer full, dropping %s event", frame.Type)
		}
	}
}

// Subscribe returns a channel that receives every decoded Event for the
// lifetime of the Client (including across reconnects).
func (c *Client) Subscribe() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Event, 2000)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		log.Printf("[AMI] reconnecting in %s", c.cfg.ReconnectInterval)
		time.Sleep(c.cfg.ReconnectInterval)

		if err := c.Connect(); err != nil {
			log.Printf("[AMI] reconnect failed: %v", err)
			continue
		}
		return
	}
}

// SendAction writes a fully-formed "Key: Value\r\n...\r\n\r\n" action to
// the PBX and does not wait for a response.
func (c *Client) SendAction(action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("ami: not connected")
	}
	if _, err := c.writer.WriteString(action); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Do sends an action built from fields, stamping a generated ActionID, and
// blocks until the matching Response frame arrives or timeout elapses.
func (c *Client) Do(action string, fields map[string]string, timeout time.Duration) (*Event, error) {
	actionID := uuid.NewString()

	ch := make(chan Event, 1)
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, fmt.Errorf("ami: not connected")
	}
	c.pending[actionID] = ch

	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\r\n", action)
	fmt.Fprintf(&b, "ActionID: %s\r\n", actionID)
	for k, v := range fields {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")

	_, werr := c.writer.WriteString(b.String())
	if werr == nil {
		werr = c.writer.Flush()
	}
	c.mu.Unlock()

	if werr != nil {
		c.mu.Lock()
		delete(c.pending, actionID)
		c.mu.Unlock()
		return nil, fmt.Errorf("ami: send %s: %w", action, werr)
	}

	select {
	case resp := <-ch:
		return &resp, nil
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, actionID)
		c.mu.Unlock()
		return nil, fmt.Errorf("ami: %s timed out after %s", action, timeout)
	}
}

// SetVariable rewrites a channel variable via the Setvar action (spec.md
// §6 outbound action), used to rewrite CALLERID(name) during enrichment.
func (c *Client) SetVariable(channel, variable, value string, timeout time.Duration) error {
	resp, err := c.Do("Setvar", map[string]string{
		"Channel":  channel,
		"Variable": variable,
		"Value":    value,
	}, timeout)
	if err != nil {
		return err
	}
	if resp.Fields["Response"] != "Success" {
		return fmt.Errorf("ami: setvar %s failed: %s", variable, resp.Fields["Message"])
	}
	return nil
}

// Close stops the read loop and closes the underlying connection.
func (c *Client) Close() error {
	close(c.done)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
