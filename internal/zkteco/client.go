package zkteco

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"attendance-relay/internal/driver"
	"attendance-relay/internal/utils"

	"github.com/sirupsen/logrus"
)

// Driver dials terminals over TCP.
type Driver struct {
	dialer net.Dialer
}

func NewDriver() *Driver {
	return &Driver{}
}

// Dial connects, authenticates when the terminal asks for it, and returns a
// session ready for live capture.
func (d *Driver) Dial(ctx context.Context, target driver.Target) (driver.Conn, error) {
	key, err := target.Password.CommKey()
	if err != nil {
		return nil, err
	}

	dialCtx := ctx
	if target.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	address := net.JoinHostPort(target.IP, strconv.Itoa(target.Port))
	nc, err := d.dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	client := newClient(nc, target.DeviceID)
	deadline, ok := dialCtx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := client.handshake(key, deadline); err != nil {
		nc.Close()
		return nil, fmt.Errorf("handshake with %s: %w", address, err)
	}
	return client, nil
}

// Client is one open terminal session.
type Client struct {
	conn     net.Conn
	deviceID int

	writeMu   sync.Mutex
	sessionID uint16
	replyID   uint16

	pending    []byte
	scratch    []byte
	registered bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newClient(conn net.Conn, deviceID int) *Client {
	return &Client{
		conn:     conn,
		deviceID: deviceID,
		replyID:  initialReplyID,
		scratch:  make([]byte, 2048),
	}
}

func (c *Client) log() *logrus.Entry {
	return utils.Logger.WithFields(logrus.Fields{
		"component": "zkteco",
		"remote":    c.conn.RemoteAddr().String(),
	})
}

func (c *Client) handshake(key uint32, deadline time.Time) error {
	resp, err := c.command(cmdConnect, nil, deadline)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	c.sessionID = resp.sessionID
	c.writeMu.Unlock()

	if resp.command == cmdAckUnauth {
		resp, err = c.command(cmdAuth, commKey(key, resp.sessionID, commKeyTicks), deadline)
		if err != nil {
			return err
		}
		if resp.command != cmdAckOK {
			return ErrUnauthorized
		}
	}
	if resp.command != cmdAckOK {
		return fmt.Errorf("%w: connect answered %d", ErrRejected, resp.command)
	}

	resp, err = c.command(cmdEnableDevice, nil, deadline)
	if err != nil {
		return err
	}
	if resp.command != cmdAckOK {
		return fmt.Errorf("%w: enable device answered %d", ErrRejected, resp.command)
	}
	return nil
}

// command sends one request and waits for the matching reply frame.
func (c *Client) command(cmd uint16, data []byte, deadline time.Time) (frame, error) {
	if err := c.send(cmd, data, deadline); err != nil {
		return frame{}, err
	}
	return c.nextFrame(deadline)
}

func (c *Client) send(cmd uint16, data []byte, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	packet, next := encodePacket(cmd, c.sessionID, c.replyID, data)
	c.replyID = next

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := c.conn.Write(packet)
	return err
}

// ack confirms a pushed event frame. Acks use a fixed reply id and do not
// advance the request sequence.
func (c *Client) ack(deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	packet, _ := encodePacket(cmdAckOK, c.sessionID, initialReplyID, nil)
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := c.conn.Write(packet)
	return err
}

// nextFrame returns the next buffered frame, reading more bytes as needed.
// Bytes read before a timeout stay buffered for the next call.
func (c *Client) nextFrame(deadline time.Time) (frame, error) {
	for {
		f, consumed, ok, err := parseFrame(c.pending)
		if err != nil {
			return frame{}, err
		}
		if ok {
			c.pending = c.pending[consumed:]
			return f, nil
		}

		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return frame{}, err
		}
		n, err := c.conn.Read(c.scratch)
		c.pending = append(c.pending, c.scratch[:n]...)
		if err != nil {
			return frame{}, err
		}
	}
}

func (c *Client) registerEvents(deadline time.Time) error {
	flags := make([]byte, 4)
	binary.LittleEndian.PutUint32(flags, efAttLog)

	resp, err := c.command(cmdRegEvent, flags, deadline)
	if err != nil {
		return err
	}
	if resp.command != cmdAckOK {
		return fmt.Errorf("%w: event registration answered %d", ErrRejected, resp.command)
	}
	c.registered = true
	return nil
}

// CaptureNext waits up to timeout for the terminal to push an event frame.
func (c *Client) CaptureNext(ctx context.Context, timeout time.Duration) ([]driver.Record, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("capture: %w", driver.ErrNotConnected)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if !c.registered {
		if err := c.registerEvents(deadline); err != nil {
			return nil, fmt.Errorf("register events: %w", err)
		}
	}

	f, err := c.nextFrame(deadline)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, err
	}

	if err := c.ack(time.Now().Add(time.Second)); err != nil {
		return nil, fmt.Errorf("ack event frame: %w", err)
	}

	if f.command != cmdRegEvent {
		c.log().WithField("command", f.command).Debug("Ignoring non-event frame")
		return []driver.Record{driver.UnknownRecord(f.raw, fmt.Sprintf("unexpected command %d", f.command))}, nil
	}
	if len(f.data) == 0 {
		return nil, nil
	}
	return decodeEvents(c.deviceID, f.data), nil
}

// Close says goodbye to the terminal and closes the socket. Safe to call
// more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if err := c.send(cmdExit, nil, time.Now().Add(time.Second)); err != nil {
			c.log().WithError(err).Debug("Exit command not delivered")
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
