package utils

import (
	"bufio"
	"io"
	"sync"
)

// LineReader reads delimiter terminated lines from blocking reader in background goroutine and hands them out
// without blocking. Used by serial line based CAN gateways.
type LineReader struct {
	lines chan []byte

	mu  sync.Mutex
	err error
}

// NewLineReader starts reading lines from reader. Goroutine ends when reader returns error (for example when
// serial port is closed). Lines are returned with delimiter included.
func NewLineReader(reader io.Reader, delimiter byte, queueSize int) *LineReader {
	l := &LineReader{
		lines: make(chan []byte, queueSize),
	}
	go l.run(bufio.NewReader(reader), delimiter)
	return l
}

func (l *LineReader) run(reader *bufio.Reader, delimiter byte) {
	defer close(l.lines)
	for {
		line, err := reader.ReadBytes(delimiter)
		if len(line) > 0 && err == nil {
			l.lines <- line
		}
		if err != nil {
			l.mu.Lock()
			l.err = err
			l.mu.Unlock()
			return
		}
	}
}

// Next returns next line when one is available. Error is returned only after all lines read before error have been
// consumed.
func (l *LineReader) Next() ([]byte, bool, error) {
	select {
	case line, ok := <-l.lines:
		if ok {
			return line, true, nil
		}
	default:
		return nil, false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return nil, false, l.err
}
