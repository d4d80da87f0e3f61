package zkteco

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"attendance-relay/internal/driver"
	"attendance-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessionID = 42

func TestEncodePacket(t *testing.T) {
	packet, next := encodePacket(cmdConnect, 0, initialReplyID, nil)

	require.Len(t, packet, tcpTopSize+headerSize)
	assert.Equal(t, uint16(0), next)
	assert.Equal(t, uint16(machinePrepareData1), binary.LittleEndian.Uint16(packet[0:]))
	assert.Equal(t, uint16(machinePrepareData2), binary.LittleEndian.Uint16(packet[2:]))
	assert.Equal(t, uint32(headerSize), binary.LittleEndian.Uint32(packet[4:]))

	body := packet[tcpTopSize:]
	assert.Equal(t, uint16(cmdConnect), binary.LittleEndian.Uint16(body[0:]))
	assert.Equal(t, uint16(64535), binary.LittleEndian.Uint16(body[2:]))
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(body[6:]))
}

func TestCommKey(t *testing.T) {
	assert.Equal(t, []byte{0x61, 0x7D, 0x32, 0x79}, commKey(0, 0, commKeyTicks))
	assert.NotEqual(t, commKey(1234, testSessionID, commKeyTicks), commKey(1235, testSessionID, commKeyTicks))
}

func TestDecodeEvents(t *testing.T) {
	t.Run("short layout", func(t *testing.T) {
		records := decodeEvents(3, shortEvent(7, 1, 0, 24, 1, 1, 9, 0, 0))
		require.Len(t, records, 1)
		require.Equal(t, driver.KindAttendance, records[0].Kind)

		event := records[0].Attendance
		assert.Equal(t, 3, event.DeviceID)
		assert.Equal(t, "7", event.UserID)
		assert.Equal(t, 1, event.Status)
		assert.Equal(t, "2024-01-01 09:00:00", event.FormattedTimestamp())
	})

	t.Run("text user id", func(t *testing.T) {
		payload := make([]byte, 36)
		copy(payload, "EMP-0042")
		payload[24] = 15
		payload[25] = 1
		copy(payload[26:32], []byte{24, 6, 30, 17, 45, 10})

		records := decodeEvents(1, payload)
		require.Len(t, records, 1)
		require.Equal(t, driver.KindAttendance, records[0].Kind)
		assert.Equal(t, "EMP-0042", records[0].Attendance.UserID)
		assert.Equal(t, 15, records[0].Attendance.Status)
		assert.Equal(t, 1, records[0].Attendance.Punch)
		assert.Equal(t, "2024-06-30 17:45:10", records[0].Attendance.FormattedTimestamp())
	})

	t.Run("impossible date is unknown", func(t *testing.T) {
		records := decodeEvents(1, shortEvent(7, 1, 0, 24, 2, 31, 9, 0, 0))
		require.Len(t, records, 1)
		assert.Equal(t, driver.KindUnknown, records[0].Kind)
	})

	t.Run("unsupported length is unknown", func(t *testing.T) {
		records := decodeEvents(1, make([]byte, 20))
		require.Len(t, records, 1)
		assert.Equal(t, driver.KindUnknown, records[0].Kind)
	})
}

func TestDialAndCapture(t *testing.T) {
	target := startTerminal(t, func(t *testing.T, conn net.Conn) {
		req := readRequest(t, conn)
		assert.Equal(t, uint16(cmdConnect), req.command)
		reply(t, conn, cmdAckUnauth)

		req = readRequest(t, conn)
		assert.Equal(t, uint16(cmdAuth), req.command)
		assert.Equal(t, commKey(1234, testSessionID, commKeyTicks), req.data)
		reply(t, conn, cmdAckOK)

		req = readRequest(t, conn)
		assert.Equal(t, uint16(cmdEnableDevice), req.command)
		reply(t, conn, cmdAckOK)

		req = readRequest(t, conn)
		assert.Equal(t, uint16(cmdRegEvent), req.command)
		reply(t, conn, cmdAckOK)

		push(t, conn, cmdRegEvent, shortEvent(7, 1, 0, 24, 1, 1, 9, 0, 0))
		req = readRequest(t, conn)
		assert.Equal(t, uint16(cmdAckOK), req.command)

		req = readRequest(t, conn)
		assert.Equal(t, uint16(cmdExit), req.command)
	})
	target.Password = models.Credential("1234")

	conn, err := NewDriver().Dial(context.Background(), target)
	require.NoError(t, err)

	records, err := conn.CaptureNext(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, driver.KindAttendance, records[0].Kind)
	assert.Equal(t, "7", records[0].Attendance.UserID)
	assert.Equal(t, 9, records[0].Attendance.DeviceID)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "close is idempotent")
}

func TestCaptureTimeoutIsEmptyBatch(t *testing.T) {
	done := make(chan struct{})
	target := startTerminal(t, func(t *testing.T, conn net.Conn) {
		readRequest(t, conn)
		reply(t, conn, cmdAckOK)
		readRequest(t, conn)
		reply(t, conn, cmdAckOK)
		readRequest(t, conn)
		reply(t, conn, cmdAckOK)
		<-done
	})
	defer close(done)

	conn, err := NewDriver().Dial(context.Background(), target)
	require.NoError(t, err)
	defer conn.Close()

	records, err := conn.CaptureNext(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCaptureAfterCloseIsNotConnected(t *testing.T) {
	done := make(chan struct{})
	target := startTerminal(t, func(t *testing.T, conn net.Conn) {
		readRequest(t, conn)
		reply(t, conn, cmdAckOK)
		readRequest(t, conn)
		reply(t, conn, cmdAckOK)
		<-done
	})
	defer close(done)

	conn, err := NewDriver().Dial(context.Background(), target)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = conn.CaptureNext(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, driver.ErrNotConnected))
}

func TestDialRejectedCredential(t *testing.T) {
	target := startTerminal(t, func(t *testing.T, conn net.Conn) {
		readRequest(t, conn)
		reply(t, conn, cmdAckUnauth)
		readRequest(t, conn)
		reply(t, conn, cmdAckUnauth)
	})
	target.Password = models.Credential("1")

	_, err := NewDriver().Dial(context.Background(), target)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestCaptureFailsWhenTerminalHangsUp(t *testing.T) {
	target := startTerminal(t, func(t *testing.T, conn net.Conn) {
		readRequest(t, conn)
		reply(t, conn, cmdAckOK)
		readRequest(t, conn)
		reply(t, conn, cmdAckOK)
		readRequest(t, conn)
		reply(t, conn, cmdAckOK)
		conn.Close()
	})

	conn, err := NewDriver().Dial(context.Background(), target)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.CaptureNext(context.Background(), time.Second)
	assert.Error(t, err)
}

func shortEvent(userID uint16, status, punch byte, ts ...byte) []byte {
	payload := make([]byte, 10)
	binary.LittleEndian.PutUint16(payload, userID)
	payload[2] = status
	payload[3] = punch
	copy(payload[4:], ts)
	return payload
}

// startTerminal runs script against the first connection accepted on a
// loopback listener and returns a target pointing at it.
func startTerminal(t *testing.T, script func(t *testing.T, conn net.Conn)) driver.Target {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(5 * time.Second))
		script(t, conn)
	}()
	t.Cleanup(func() {
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Error("terminal script did not finish")
		}
	})

	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return driver.Target{DeviceID: 9, IP: host, Port: port, Timeout: 2 * time.Second}
}

func readRequest(t *testing.T, conn net.Conn) frame {
	top := make([]byte, tcpTopSize)
	if _, err := io.ReadFull(conn, top); err != nil {
		t.Errorf("read frame header: %v", err)
		return frame{}
	}
	body := make([]byte, binary.LittleEndian.Uint32(top[4:]))
	if _, err := io.ReadFull(conn, body); err != nil {
		t.Errorf("read frame body: %v", err)
		return frame{}
	}

	f, _, ok, err := parseFrame(append(top, body...))
	if err != nil || !ok {
		t.Errorf("parse frame: ok=%v err=%v", ok, err)
	}
	return f
}

func reply(t *testing.T, conn net.Conn, command uint16) {
	push(t, conn, command, nil)
}

func push(t *testing.T, conn net.Conn, command uint16, data []byte) {
	packet, _ := encodePacket(command, testSessionID, 0, data)
	if _, err := conn.Write(packet); err != nil {
		t.Errorf("write frame: %v", err)
	}
}
