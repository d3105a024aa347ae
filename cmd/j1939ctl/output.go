package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"github.com/aldas/go-j1939/rawlog"
	"github.com/aldas/go-j1939/transport"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputRaw  = "raw"
)

type jsonMessage struct {
	Time        time.Time `json:"time"`
	PGN         uint32    `json:"pgn"`
	Priority    uint8     `json:"priority"`
	Source      uint8     `json:"source"`
	Destination uint8     `json:"destination"`
	Length      int       `json:"length"`
	Data        string    `json:"data"`
}

// messagePrinter writes received messages to writer in selected format.
type messagePrinter struct {
	mu     sync.Mutex
	writer io.Writer
	format string
	count  int
}

func newMessagePrinter(w io.Writer, format string) (*messagePrinter, error) {
	switch format {
	case outputText, outputJSON, outputRaw:
	default:
		return nil, fmt.Errorf("unknown output format: %q", format)
	}
	return &messagePrinter{writer: w, format: format}, nil
}

func (p *messagePrinter) HandleMessage(msg transport.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++

	var line string
	switch p.format {
	case outputJSON:
		b, err := json.Marshal(jsonMessage{
			Time:        msg.Time,
			PGN:         msg.PGN.Number(),
			Priority:    msg.PGN.Priority,
			Source:      msg.PGN.Source,
			Destination: msg.PGN.Destination(),
			Length:      len(msg.Data),
			Data:        hex.EncodeToString(msg.Data),
		})
		if err != nil {
			return
		}
		line = string(b)
	case outputRaw:
		line = string(rawlog.MarshalMessage(msg.Time, msg.PGN, msg.Data))
	default:
		line = formatText(msg)
	}
	fmt.Fprintln(p.writer, line)
}

func (p *messagePrinter) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func formatText(msg transport.Message) string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("%v pgn: %v (0x%04X), prio: %v, src: %v, dst: %v, len: %v,",
		msg.Time.Format("15:04:05.000"),
		msg.PGN.Number(),
		msg.PGN.Number(),
		msg.PGN.Priority,
		msg.PGN.Source,
		msg.PGN.Destination(),
		len(msg.Data),
	))
	for _, b := range msg.Data {
		sb.WriteString(fmt.Sprintf(" %02X", b))
	}
	return sb.String()
}
