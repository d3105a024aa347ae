// Package actisense implements j1939.Link over Actisense W2K-1 gateway RAW ASCII format. RAW ASCII format carries
// ordinary CAN frames so transport protocol sessions are assembled by transport.Engine and not by the device.
package actisense

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/internal/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

const rawASCIIDelimiter = ' '

const defaultQueueSize = 1024

// Config configures RAW ASCII device.
type Config struct {
	// ReceiveDataTimeout is maximum duration reads from device can produce no data until we error out (idle).
	// Zero disables idle check.
	ReceiveDataTimeout time.Duration

	// DebugLogRawMessageBytes instructs device to log all sent/received raw messages
	DebugLogRawMessageBytes bool

	Logger *logrus.Logger
}

// RawASCIIDevice is implementing Actisense W2K-1 device capable of sending and receiving RAW Ascii format
type RawASCIIDevice struct {
	device  io.ReadWriter
	reader  *utils.LineReader
	timeNow func() time.Time
	log     *logrus.Logger

	writeMutex sync.Mutex

	mu           sync.Mutex
	filters      []j1939.Filter
	lastReceived time.Time

	config Config
}

// NewRawASCIIDevice creates new instance of Actisense W2K-1 device capable of decoding RAW Ascii format.
func NewRawASCIIDevice(device io.ReadWriter, config Config) *RawASCIIDevice {
	log := config.Logger
	if log == nil {
		log = j1939.NewDiscardLogger()
	}
	return &RawASCIIDevice{
		device:  device,
		timeNow: time.Now,
		log:     log,
		config:  config,
	}
}

func (d *RawASCIIDevice) Close() error {
	if c, ok := d.device.(io.Closer); ok {
		return c.Close()
	}
	return errors.New("device does not implement Closer interface")
}

// Initialize starts reading lines from device.
func (d *RawASCIIDevice) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reader != nil {
		return nil
	}
	d.reader = utils.NewLineReader(d.device, '\n', defaultQueueSize)
	d.lastReceived = d.timeNow()
	return nil
}

const hextable = "0123456789ABCDEF"

func toRawASCIIBytes(frame j1939.Frame) []byte {
	f := []byte{
		// example: `00:00:00.000 S 1F223355 01 02 03 04 05 06 07 08\r\n`
		0x30, 0x30, 0x3a, 0x30, 0x30, 0x3a, 0x30, 0x30, 0x2e, 0x30, 0x30, 0x30, 0x20, 0x53, 0x20, // `00:00:00.000 S ` (0-14)
		0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, // canID part `1F223355` (15-22)
		0x20, 0x0, 0x0, 0x20, 0x0, 0x0, 0x20, 0x0, 0x0, // ` 01 02 03` (23-31)
		0x20, 0x0, 0x0, 0x20, 0x0, 0x0, 0x20, 0x0, 0x0, // ` 04 05 06` (32-40)
		0x20, 0x0, 0x0, 0x20, 0x0, 0x0, 0x0d, 0x0a, // ` 07 08\r\n` (41-48)
	}
	hexCanID := strings.ToUpper(strconv.FormatUint(uint64(frame.ID&0x1fffffff), 16))
	canIDStart := 23 - len(hexCanID)
	for i, s := range hexCanID {
		f[canIDStart+i] = byte(s)
	}

	idx := uint8(24)
	for _, v := range frame.Payload() {
		f[idx] = hextable[v>>4]
		f[idx+1] = hextable[v&0x0f]
		idx += 3 // additional byte is for space (0x20)
	}
	if len(frame.Payload()) < 8 {
		// `\r\n` at the end
		f[idx-1] = 0x0d
		f[idx] = 0x0a
	}
	return f[0 : idx+1]
}

// SendFrame writes frame as RAW ASCII `S` (send) line.
func (d *RawASCIIDevice) SendFrame(frame j1939.Frame) error {
	rawB := toRawASCIIBytes(frame)
	if d.config.DebugLogRawMessageBytes {
		d.log.Debugf("writing Actisense RAW ASCII bytes: `%v`", utils.FormatSpaces(rawB))
	}
	d.writeMutex.Lock()
	defer d.writeMutex.Unlock()
	if _, err := d.device.Write(rawB); err != nil {
		return &j1939.LinkError{Err: errors.Wrap(err, "actisense write")}
	}
	return nil
}

// ReceiveFrame returns next received (`R`) frame without blocking.
func (d *RawASCIIDevice) ReceiveFrame() (j1939.Frame, bool, error) {
	d.mu.Lock()
	reader := d.reader
	d.mu.Unlock()
	if reader == nil {
		return j1939.Frame{}, false, &j1939.LinkError{Err: errors.New("actisense device is not initialized")}
	}

	for {
		line, ok, err := reader.Next()
		if err != nil {
			return j1939.Frame{}, false, &j1939.LinkError{Err: errors.Wrap(err, "actisense read")}
		}
		now := d.timeNow()
		if !ok {
			return j1939.Frame{}, false, d.checkIdle(now)
		}
		d.mu.Lock()
		d.lastReceived = now
		d.mu.Unlock()

		if d.config.DebugLogRawMessageBytes {
			d.log.Debugf("read Actisense RAW ASCII frame: `%v`", utils.FormatSpaces(line))
		}
		frame, skip, err := parseRawASCII(line, now)
		if skip {
			continue
		}
		if err != nil {
			d.log.WithError(err).Debug("ignoring malformed Actisense RAW ASCII line")
			continue
		}
		if !d.accepts(frame.ID) {
			continue
		}
		return frame, true, nil
	}
}

func (d *RawASCIIDevice) checkIdle(now time.Time) error {
	if d.config.ReceiveDataTimeout <= 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if idle := now.Sub(d.lastReceived); idle > d.config.ReceiveDataTimeout {
		return &j1939.LinkError{Err: errors.Errorf("actisense device has been idle for %v", idle)}
	}
	return nil
}

// InstallFilters installs software filters. W2K-1 RAW ASCII mode forwards everything from bus.
func (d *RawASCIIDevice) InstallFilters(filters []j1939.Filter) error {
	if err := j1939.ValidateFilters(filters); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filters = append([]j1939.Filter{}, filters...)
	return nil
}

func (d *RawASCIIDevice) accepts(id uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return j1939.MatchAny(d.filters, id)
}

func parseRawASCII(raw []byte, now time.Time) (j1939.Frame, bool, error) {
	// Example: '00:34:02.718 R 18EEFF80 10 00 00 00 00 00 00 80\n'
	//                       1 2        3  4  5  6  7  8  9  0
	// We find 2nd and 3rd spaces so we can check for "R" meaning frame is received and parse CAN ID and then
	// decode hex to bytes everything after CAN ID block
	spacesSeen := 0
	spaceIndex := 0
	previousSpaceIndex := 0
	for i, b := range raw {
		if b != rawASCIIDelimiter {
			continue
		}
		previousSpaceIndex = spaceIndex
		spaceIndex = i
		spacesSeen++
		if spacesSeen == 3 {
			break
		}
	}
	if spacesSeen != 3 { // skippable - this is probably some garbage from the wire, or we started reading frame not from the beginning
		return j1939.Frame{}, true, errors.New("failed to find correct space index in raw ascii frame")
	}
	if raw[previousSpaceIndex-1] != 'R' { // skippable - this is not received frame
		return j1939.Frame{}, true, errors.New("raw ascii frame does not seem to be received frame")
	}

	var canID uint32
	if err := decodeHexToInt(raw[previousSpaceIndex+1:spaceIndex], &canID, 4); err != nil {
		return j1939.Frame{}, false, err
	}

	hexBytes := make([]byte, 0, 16)
	for i := spaceIndex; i < len(raw); i++ {
		b := raw[i]
		if b == rawASCIIDelimiter {
			continue
		}
		if b == '\r' || b == '\n' {
			break
		}
		if len(hexBytes) == cap(hexBytes) {
			return j1939.Frame{}, false, errors.New("raw ascii frame has more than 8 data bytes")
		}
		hexBytes = append(hexBytes, b)
	}
	frame := j1939.Frame{
		Time: now,
		ID:   canID & 0x1fffffff,
	}
	n, err := hex.Decode(frame.Data[:], hexBytes)
	if err != nil {
		return j1939.Frame{}, false, err
	}
	frame.Length = uint8(n)
	return frame, false, nil
}

func decodeHexToInt(raw []byte, target interface{}, dstLength int) error {
	dst := make([]byte, dstLength)

	if len(raw) > dstLength*2 {
		return errors.Errorf("hex value is longer than %v bytes", dstLength)
	}
	if len(raw) < dstLength*2 {
		tmp := make([]byte, dstLength*2)
		start := (dstLength * 2) - len(raw)
		for i := 0; i < start; i++ {
			tmp[i] = '0'
		}
		copy(tmp[start:], raw)
		raw = tmp
	}

	_, err := hex.Decode(dst, raw)
	if err != nil {
		return err
	}

	buffer := bytes.NewReader(dst)
	return binary.Read(buffer, binary.BigEndian, target)
}
