package j1939

import (
	"github.com/sirupsen/logrus"
	"io"
)

// NewLoggedLink wraps Link and logs every sent and received frame at trace level and link errors at error level.
func NewLoggedLink(inner Link, log *logrus.Logger) Link {
	return &loggedLink{
		inner: inner,
		log:   log,
	}
}

type loggedLink struct {
	inner Link
	log   *logrus.Logger
}

func (l *loggedLink) SendFrame(frame Frame) error {
	err := l.inner.SendFrame(frame)
	if err != nil {
		l.log.WithError(err).WithField("frame", frame.String()).Error("link send failed")
		return err
	}
	if l.log.IsLevelEnabled(logrus.TraceLevel) {
		l.log.WithFields(frameFields(frame)).Trace("link send")
	}
	return nil
}

func (l *loggedLink) ReceiveFrame() (Frame, bool, error) {
	frame, ok, err := l.inner.ReceiveFrame()
	if err != nil {
		l.log.WithError(err).Error("link receive failed")
		return frame, ok, err
	}
	if ok && l.log.IsLevelEnabled(logrus.TraceLevel) {
		l.log.WithFields(frameFields(frame)).Trace("link receive")
	}
	return frame, ok, nil
}

func (l *loggedLink) InstallFilters(filters []Filter) error {
	l.log.WithField("filters", len(filters)).Debug("installing link filters")
	return l.inner.InstallFilters(filters)
}

func frameFields(frame Frame) logrus.Fields {
	pgn := frame.PGN()
	return logrus.Fields{
		"pgn":    pgn.Number(),
		"source": pgn.Source,
		"dest":   pgn.Destination(),
		"frame":  frame.String(),
	}
}

// NewDiscardLogger returns logger that writes nothing. Used when caller does not provide logger.
func NewDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}
