// Package slcan implements j1939.Link over serial line CAN adapters speaking Lawicel SLCAN ASCII protocol
// (CANUSB, CANable, USBtin and similar).
package slcan

import (
	"encoding/hex"
	"fmt"
	"github.com/aldas/go-j1939"
	"github.com/aldas/go-j1939/internal/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"io"
	"strconv"
	"sync"
	"time"
)

const (
	lineDelimiter = '\r'
	// bell is sent by adapter when command failed
	bell = 0x07

	defaultQueueSize = 1024
)

// bitrateCommands maps bitrate to SLCAN `Sn` setup command.
var bitrateCommands = map[int]string{
	10000:   "S0",
	20000:   "S1",
	50000:   "S2",
	100000:  "S3",
	125000:  "S4",
	250000:  "S5",
	500000:  "S6",
	800000:  "S7",
	1000000: "S8",
}

// Config configures SLCAN device.
type Config struct {
	// Bitrate of CAN bus. J1939 uses 250000 (default) or 500000.
	Bitrate int

	// DebugLogRawMessageBytes instructs device to log all sent/received raw lines
	DebugLogRawMessageBytes bool

	Logger *logrus.Logger
}

// Device is SLCAN adapter. Received lines are read by background goroutine so ReceiveFrame never blocks.
type Device struct {
	device io.ReadWriteCloser
	reader *utils.LineReader
	config Config
	log    *logrus.Logger

	writeMutex sync.Mutex

	filterMutex sync.Mutex
	filters     []j1939.Filter

	timeNow func() time.Time
}

// Open opens serial port and initializes SLCAN adapter on it.
func Open(portName string, baudRate int, config Config) (*Device, error) {
	port, err := serial.OpenPort(&serial.Config{Name: portName, Baud: baudRate})
	if err != nil {
		return nil, &j1939.LinkError{Err: errors.Wrapf(err, "could not open serial port %v", portName)}
	}
	d := NewDevice(port, config)
	if err := d.Initialize(); err != nil {
		_ = port.Close()
		return nil, err
	}
	return d, nil
}

// NewDevice creates device on already opened port. Initialize must be called before use.
func NewDevice(device io.ReadWriteCloser, config Config) *Device {
	if config.Bitrate == 0 {
		config.Bitrate = 250000
	}
	log := config.Logger
	if log == nil {
		log = j1939.NewDiscardLogger()
	}
	return &Device{
		device:  device,
		config:  config,
		log:     log,
		timeNow: time.Now,
	}
}

// Initialize closes channel (in case it was left open), sets bitrate and opens CAN channel. Starts reading lines.
func (d *Device) Initialize() error {
	setup, ok := bitrateCommands[d.config.Bitrate]
	if !ok {
		return fmt.Errorf("unsupported SLCAN bitrate %v: %w", d.config.Bitrate, j1939.ErrInvalidPayload)
	}
	for _, cmd := range []string{"C", setup, "O"} {
		if err := d.write([]byte(cmd + "\r")); err != nil {
			return err
		}
	}
	d.reader = utils.NewLineReader(d.device, lineDelimiter, defaultQueueSize)
	return nil
}

// Close closes CAN channel and serial port.
func (d *Device) Close() error {
	_ = d.write([]byte("C\r"))
	return d.device.Close()
}

func (d *Device) write(b []byte) error {
	d.writeMutex.Lock()
	defer d.writeMutex.Unlock()
	if d.config.DebugLogRawMessageBytes {
		d.log.Debugf("writing SLCAN bytes: `%v`", utils.FormatSpaces(b))
	}
	if _, err := d.device.Write(b); err != nil {
		return &j1939.LinkError{Err: errors.Wrap(err, "slcan write")}
	}
	return nil
}

// SendFrame sends frame as extended `T` frame.
func (d *Device) SendFrame(frame j1939.Frame) error {
	return d.write(encodeFrame(frame))
}

// ReceiveFrame returns next received frame without blocking. Lines that are not extended data frames (command
// acknowledgements, standard frames, remote frames) are skipped.
func (d *Device) ReceiveFrame() (j1939.Frame, bool, error) {
	if d.reader == nil {
		return j1939.Frame{}, false, &j1939.LinkError{Err: errors.New("slcan device is not initialized")}
	}
	for {
		line, ok, err := d.reader.Next()
		if err != nil {
			return j1939.Frame{}, false, &j1939.LinkError{Err: errors.Wrap(err, "slcan read")}
		}
		if !ok {
			return j1939.Frame{}, false, nil
		}
		if d.config.DebugLogRawMessageBytes {
			d.log.Debugf("read SLCAN line: `%v`", utils.FormatSpaces(line))
		}
		frame, skip, err := decodeFrame(line, d.timeNow())
		if skip {
			continue
		}
		if err != nil {
			d.log.WithError(err).Debug("ignoring malformed SLCAN line")
			continue
		}
		if !d.accepts(frame.ID) {
			continue
		}
		return frame, true, nil
	}
}

// InstallFilters installs software filters. SLCAN acceptance mask registers are controller specific so filtering
// is done by device itself.
func (d *Device) InstallFilters(filters []j1939.Filter) error {
	if err := j1939.ValidateFilters(filters); err != nil {
		return err
	}
	d.filterMutex.Lock()
	defer d.filterMutex.Unlock()
	d.filters = append([]j1939.Filter{}, filters...)
	return nil
}

func (d *Device) accepts(id uint32) bool {
	d.filterMutex.Lock()
	defer d.filterMutex.Unlock()
	return j1939.MatchAny(d.filters, id)
}

const hextable = "0123456789ABCDEF"

// encodeFrame encodes frame as `Tiiiiiiiildd..\r`
func encodeFrame(frame j1939.Frame) []byte {
	payload := frame.Payload()
	b := make([]byte, 0, 1+8+1+2*len(payload)+1)
	b = append(b, 'T')
	id := frame.ID & 0x1fffffff
	for shift := 28; shift >= 0; shift -= 4 {
		b = append(b, hextable[(id>>uint(shift))&0xf])
	}
	b = append(b, '0'+byte(len(payload)))
	for _, v := range payload {
		b = append(b, hextable[v>>4], hextable[v&0x0f])
	}
	return append(b, lineDelimiter)
}

// decodeFrame decodes received `T` line. Skip is true for lines that are not extended data frames.
func decodeFrame(line []byte, now time.Time) (j1939.Frame, bool, error) {
	// adapters may prefix responses with bell or acknowledgement characters
	for len(line) > 0 && (line[0] == bell || line[0] == 'z' || line[0] == 'Z') {
		line = line[1:]
	}
	for len(line) > 0 && (line[len(line)-1] == '\r' || line[len(line)-1] == '\n') {
		line = line[:len(line)-1]
	}
	if len(line) == 0 || line[0] != 'T' {
		return j1939.Frame{}, true, nil
	}
	if len(line) < 10 {
		return j1939.Frame{}, false, errors.Errorf("too short SLCAN frame line: %q", line)
	}
	id, err := strconv.ParseUint(string(line[1:9]), 16, 32)
	if err != nil {
		return j1939.Frame{}, false, errors.Wrap(err, "invalid SLCAN frame identifier")
	}
	length := int(line[9] - '0')
	if length < 0 || length > j1939.MaxFrameDataLength {
		return j1939.Frame{}, false, errors.Errorf("invalid SLCAN frame length: %q", line[9])
	}
	data := line[10:]
	if len(data) < 2*length {
		return j1939.Frame{}, false, errors.Errorf("SLCAN frame data is shorter than length %v", length)
	}
	f := j1939.Frame{
		Time:   now,
		ID:     uint32(id) & 0x1fffffff,
		Length: uint8(length),
	}
	// timestamp (4 hex chars) may follow data when adapter has timestamps enabled
	if _, err := hex.Decode(f.Data[:length], data[:2*length]); err != nil {
		return j1939.Frame{}, false, errors.Wrap(err, "invalid SLCAN frame data")
	}
	return f, false, nil
}
