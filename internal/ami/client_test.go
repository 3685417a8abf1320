package ami

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/axelmiami/callbridge/internal/config"
)

// newTestClient wires a Client to one end of an in-memory pipe, bypassing
// Connect's real TCP dial and login handshake so tests can drive the wire
// protocol directly.
func newTestClient(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	c := &Client{
		cfg:     &config.AMI{},
		conn:    clientSide,
		reader:  bufio.NewReader(clientSide),
		writer:  bufio.NewWriter(clientSide),
		pending: make(map[string]chan Event),
		done:    make(chan struct{}),
	}
	c.connected = true
	t.Cleanup(func() {
		clientSide.Close()
		serverSide.Close()
	})
	return c, serverSide
}

func TestReadFrameParsesKeyValueBlock(t *testing.T) {
	c, server := newTestClient(t)
	go func() {
		server.Write([]byte("Event: Newchannel\r\nUniqueid: 1.1\r\nChannel: SIP/100-1\r\n\r\n"))
	}()

	ev, err := c.readFrame()
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if ev.Type != "Newchannel" {
		t.Errorf("Type = %q, want Newchannel", ev.Type)
	}
	if ev.Fields["Uniqueid"] != "1.1" {
		t.Errorf("Fields[Uniqueid] = %q, want 1.1", ev.Fields["Uniqueid"])
	}
}

func TestSetVariableSendsSetvarAndAwaitsSuccess(t *testing.T) {
	c, server := newTestClient(t)

	go func() {
		r := bufio.NewReader(server)
		fields := make(map[string]string)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = line[:len(line)-2]
			if line == "" {
				break
			}
			k, v, _ := splitColon(line)
			fields[k] = v
		}
		if fields["Action"] != "Setvar" || fields["Variable"] != "CALLERID(name)" {
			t.Errorf("unexpected Setvar action: %+v", fields)
		}
		// Deliver the matching response straight through dispatch, the way
		// readLoop would after decoding it off the wire.
		c.dispatch(Event{Fields: map[string]string{"Response": "Success", "ActionID": fields["ActionID"]}})
	}()

	if err := c.SetVariable("SIP/100-1", "CALLERID(name)", "Jane Doe", time.Second); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
}

func splitColon(line string) (string, string, bool) {
	for i := 0; i < len(line)-1; i++ {
		if line[i] == ':' && line[i+1] == ' ' {
			return line[:i], line[i+2:], true
		}
	}
	return line, "", false
}
