// Package rawlog reads and writes CAN frames in canboat RAW text format
// (`2022-10-11T11:47:22Z,6,60928,16,255,8,99,ad,22,22,00,a0,64,c0`) and provides Link implementations to record
// traffic into such file and to replay it.
package rawlog

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/aldas/go-j1939"
	"strconv"
	"strings"
	"time"
)

// MarshalFrame formats frame as single RAW line without line ending.
func MarshalFrame(f j1939.Frame) []byte {
	return MarshalMessage(f.Time, f.PGN(), f.Payload())
}

// MarshalMessage formats parameter group with data of any length as RAW line without line ending. Used to output
// reassembled transport protocol messages.
func MarshalMessage(t time.Time, pgn j1939.PGN, data []byte) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(t.Format(time.RFC3339Nano))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(int(pgn.Priority)))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(int(pgn.Number())))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(int(pgn.Source)))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(int(pgn.Destination())))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(len(data)))
	for _, b := range data {
		buf.WriteByte(',')
		buf.WriteString(hex.EncodeToString([]byte{b}))
	}
	return buf.Bytes()
}

// UnmarshalString parses RAW line into frame.
func UnmarshalString(raw string) (j1939.Frame, error) {
	// 2021-07-29T10:18:31.758Z,6,60928,36,255,8,02,82,ff,00,10,02,00,80
	// time                    ,prio,pgn,src,dst,len,data...
	parts := strings.Split(raw, ",")
	if len(parts) < 6 {
		return j1939.Frame{}, errors.New("raw log line has fewer components than expected")
	}
	dLen, err := strconv.ParseUint(parts[5], 10, 8)
	if err != nil {
		return j1939.Frame{}, fmt.Errorf("raw log line invalid data length, err: %w", err)
	}
	if len(parts)-6 != int(dLen) {
		return j1939.Frame{}, errors.New("raw log line data length does not match bytes count")
	}
	if dLen > j1939.MaxFrameDataLength {
		return j1939.Frame{}, fmt.Errorf("raw log line has more than 8 data bytes: %w", j1939.ErrInvalidPayload)
	}

	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return j1939.Frame{}, fmt.Errorf("raw log line invalid time format, err: %w", err)
	}
	prio, err := strconv.ParseUint(parts[1], 10, 3)
	if err != nil {
		return j1939.Frame{}, fmt.Errorf("raw log line invalid priority, err: %w", err)
	}
	pgn, err := strconv.ParseUint(parts[2], 10, 18)
	if err != nil {
		return j1939.Frame{}, fmt.Errorf("raw log line invalid PGN, err: %w", err)
	}
	source, err := strconv.ParseUint(parts[3], 10, 8)
	if err != nil {
		return j1939.Frame{}, fmt.Errorf("raw log line invalid source, err: %w", err)
	}
	destination, err := strconv.ParseUint(parts[4], 10, 8)
	if err != nil {
		return j1939.Frame{}, fmt.Errorf("raw log line invalid destination, err: %w", err)
	}

	data, err := hex.DecodeString(strings.Join(parts[6:], ""))
	if err != nil {
		return j1939.Frame{}, fmt.Errorf("raw log line failure to convert hex into bytes, err: %w", err)
	}

	f, err := j1939.NewFrame(j1939.PGNFromNumber(uint32(pgn), uint8(prio), uint8(source), uint8(destination)), data)
	if err != nil {
		return j1939.Frame{}, err
	}
	f.Time = t.UTC()
	return f, nil
}
