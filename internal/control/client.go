package control

import (
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a running server's control socket. Each call opens its
// own connection.
type Client struct {
	path    string
	timeout time.Duration
}

func NewClient(path string) *Client {
	return &Client{path: path, timeout: 5 * time.Second}
}

// NewClientWithTimeout creates a client with a custom dial and I/O
// timeout.
func NewClientWithTimeout(path string, timeout time.Duration) *Client {
	return &Client{path: path, timeout: timeout}
}

func (c *Client) Status() (*Status, error) {
	msg, err := newMessage(TypeStatus, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(msg)
	if err != nil {
		return nil, err
	}
	if typ := messageType(resp); typ != TypeStatusResponse {
		return nil, fmt.Errorf("unexpected response type: %s", typ)
	}
	return decodeStatus(resp), nil
}

// Disconnect ends the Wayland client with the given id.
func (c *Client) Disconnect(id uint32) error {
	msg, err := newMessage(TypeDisconnect, map[string]any{"client": id})
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(msg)
	if err != nil {
		return err
	}
	if typ := messageType(resp); typ != TypeOK {
		return fmt.Errorf("unexpected response type: %s", typ)
	}
	return nil
}

// IsRunning reports whether a server answers on the socket.
func (c *Client) IsRunning() bool {
	_, err := c.Status()
	return err == nil
}

func (c *Client) roundTrip(msg *structpb.Struct) (*structpb.Struct, error) {
	conn, err := net.DialTimeout("unix", c.path, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control socket: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	if err := writeFrame(conn, msg); err != nil {
		return nil, err
	}
	resp, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	if messageType(resp) == TypeError {
		return nil, &ServerError{Message: resp.GetFields()["error"].GetStringValue()}
	}
	return resp, nil
}

// ServerError is an error reported by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// IsServerError reports whether err came from the server rather than the
// transport.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
