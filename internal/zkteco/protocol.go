// Package zkteco speaks the ZKTeco terminal TCP protocol far enough to
// authenticate and receive real-time attendance events.
package zkteco

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	cmdConnect      = 1000
	cmdExit         = 1001
	cmdEnableDevice = 1002
	cmdAuth         = 1102
	cmdRegEvent     = 500
	cmdAckOK        = 2000
	cmdAckError     = 2001
	cmdAckUnauth    = 2005

	efAttLog = 1

	machinePrepareData1 = 0x5050
	machinePrepareData2 = 0x7D82

	ushrtMax = 65535

	tcpTopSize     = 8
	headerSize     = 8
	maxFrameSize   = 64 * 1024
	commKeyTicks   = 50
	initialReplyID = ushrtMax - 1
)

var (
	ErrBadFrame     = errors.New("zkteco: malformed frame")
	ErrUnauthorized = errors.New("zkteco: authentication rejected")
	ErrRejected     = errors.New("zkteco: command rejected")
)

type frame struct {
	command   uint16
	checksum  uint16
	sessionID uint16
	replyID   uint16
	data      []byte
	raw       []byte
}

// checksum is the 16-bit one's complement style sum the terminals expect.
func checksum(p []byte) uint16 {
	sum := 0
	for len(p) > 1 {
		sum += int(binary.LittleEndian.Uint16(p))
		p = p[2:]
		if sum > ushrtMax {
			sum -= ushrtMax
		}
	}
	if len(p) == 1 {
		sum += int(p[0])
	}
	for sum > ushrtMax {
		sum -= ushrtMax
	}

	sum = ^sum
	for sum < 0 {
		sum += ushrtMax
	}
	return uint16(sum)
}

// encodePacket builds a TCP-wrapped command. The checksum covers the header
// with the caller's reply id; the header then carries the incremented id,
// which is also returned.
func encodePacket(command, sessionID, replyID uint16, data []byte) ([]byte, uint16) {
	body := make([]byte, headerSize+len(data))
	binary.LittleEndian.PutUint16(body[0:], command)
	binary.LittleEndian.PutUint16(body[4:], sessionID)
	binary.LittleEndian.PutUint16(body[6:], replyID)
	copy(body[headerSize:], data)

	sum := checksum(body)

	next := uint32(replyID) + 1
	if next >= ushrtMax {
		next -= ushrtMax
	}
	binary.LittleEndian.PutUint16(body[2:], sum)
	binary.LittleEndian.PutUint16(body[6:], uint16(next))

	packet := make([]byte, tcpTopSize, tcpTopSize+len(body))
	binary.LittleEndian.PutUint16(packet[0:], machinePrepareData1)
	binary.LittleEndian.PutUint16(packet[2:], machinePrepareData2)
	binary.LittleEndian.PutUint32(packet[4:], uint32(len(body)))
	return append(packet, body...), uint16(next)
}

// parseFrame extracts one complete frame from buf. ok is false when more
// bytes are needed.
func parseFrame(buf []byte) (f frame, consumed int, ok bool, err error) {
	if len(buf) < tcpTopSize {
		return frame{}, 0, false, nil
	}
	if binary.LittleEndian.Uint16(buf[0:]) != machinePrepareData1 ||
		binary.LittleEndian.Uint16(buf[2:]) != machinePrepareData2 {
		return frame{}, 0, false, fmt.Errorf("%w: bad magic % x", ErrBadFrame, buf[:4])
	}

	size := int(binary.LittleEndian.Uint32(buf[4:]))
	if size < headerSize || size > maxFrameSize {
		return frame{}, 0, false, fmt.Errorf("%w: length %d", ErrBadFrame, size)
	}
	if len(buf) < tcpTopSize+size {
		return frame{}, 0, false, nil
	}

	body := buf[tcpTopSize : tcpTopSize+size]
	raw := make([]byte, size)
	copy(raw, body)

	return frame{
		command:   binary.LittleEndian.Uint16(raw[0:]),
		checksum:  binary.LittleEndian.Uint16(raw[2:]),
		sessionID: binary.LittleEndian.Uint16(raw[4:]),
		replyID:   binary.LittleEndian.Uint16(raw[6:]),
		data:      raw[headerSize:],
		raw:       raw,
	}, tcpTopSize + size, true, nil
}

// commKey derives the CMD_AUTH payload from the numeric password and the
// session id the terminal assigned.
func commKey(key uint32, sessionID uint16, ticks byte) []byte {
	var k uint32
	for i := 0; i < 32; i++ {
		if key&(1<<uint(i)) != 0 {
			k = k<<1 | 1
		} else {
			k = k << 1
		}
	}
	k += uint32(sessionID)

	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, k)
	b[0] ^= 'Z'
	b[1] ^= 'K'
	b[2] ^= 'S'
	b[3] ^= 'O'

	// swap 16-bit halves
	b[0], b[1], b[2], b[3] = b[2], b[3], b[0], b[1]

	return []byte{b[0] ^ ticks, b[1] ^ ticks, ticks, b[3] ^ ticks}
}
