// Package dectris implements the stream source: it owns the ZMQ pull socket
// connected to the DCU, receives message parts in real time, and drives the
// frame sink until shutdown.
package dectris

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"lscat.org/bparchive/internal/config"
	"lscat.org/bparchive/internal/dectris"
	"lscat.org/bparchive/internal/log"
	"lscat.org/bparchive/internal/metrics"
)

// Socket is the receive surface the streamer needs from the transport. It is
// satisfied by zmq4.Socket; tests substitute a fake.
type Socket interface {
	Dial(addr string) error
	Recv() (zmq4.Msg, error)
	Close() error
}

// Streamer owns the pull socket and the receive buffer, and pushes every
// message part into the frame sink. All sink-visible work happens on the
// goroutine that calls Run; the transport's own I/O runs behind the socket.
type Streamer struct {
	parser       dectris.StreamParser
	sock         Socket
	url          string
	pollInterval time.Duration
	recvBuf      []byte
	shutdown     atomic.Bool
}

// New constructs a streamer from the source configuration.
func New(parser dectris.StreamParser, cfg config.SourceConfig) *Streamer {
	s := &Streamer{
		parser:       parser,
		sock:         zmq4.NewPull(context.Background()),
		url:          cfg.ZMQPushSocket,
		pollInterval: cfg.PollIntervalDuration(),
		recvBuf:      make([]byte, cfg.ReadBufferBytes()),
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"url":           s.url,
		"rcv_buf_size":  len(s.recvBuf),
		"poll_interval": s.pollInterval.String(),
		"workers":       cfg.Workers,
	}).Info("initialized streamer")
	return s
}

// NewWithSocket is New with an injected transport, used by tests.
func NewWithSocket(parser dectris.StreamParser, sock Socket, cfg config.SourceConfig) *Streamer {
	s := New(parser, cfg)
	s.sock = sock
	return s
}

// Shutdown notifies the streamer to stop in a signal-safe manner: a single
// atomic store, safe to call from a signal handler. The streamer finishes
// any in-flight image series before terminating.
func (s *Streamer) Shutdown() { s.shutdown.Store(true) }

// Run connects to the DCU and processes series until Shutdown. A shutdown
// request is observed at the next poll timeout, or immediately after the
// current series completes.
func (s *Streamer) Run() error {
	logger := log.GetLogger()

	if err := s.sock.Dial(s.url); err != nil {
		return fmt.Errorf("failed to connect to DCU at %s: %w", s.url, err)
	}
	defer s.sock.Close()
	logger.WithField("url", s.url).Info("connected to DCU")

	// The socket is drained on a pump goroutine; Run consumes from the
	// channel. Between series this stands in for polling: the timeout
	// only controls how often an idle line reaches the terminal. During a
	// series the channel is read back-to-back with no timer in the loop,
	// the spin regime that keeps up with the DCU's ingest rate.
	parts := make(chan zmq4.Msg)
	recvErr := make(chan error, 1)
	go s.pump(parts, recvErr)

	idle := time.NewTimer(s.pollInterval)
	defer idle.Stop()

	for !s.shutdown.Load() {
		// Wait for the start of a new series.
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(s.pollInterval)

		select {
		case <-idle.C:
			metrics.IdlePollsTotal.Inc()
			logger.WithField("minutes", int(s.pollInterval.Minutes())).
				Info("no activity in the past poll interval")
			continue

		case err := <-recvErr:
			return err

		case msg := <-parts:
			if err := s.runSeries(msg, parts, recvErr); err != nil {
				return err
			}
			logger.Info("image series successfully committed to storage")
		}
	}
	return nil
}

// runSeries feeds the sink from the first part of a series until the sink
// reports completion.
func (s *Streamer) runSeries(first zmq4.Msg, parts <-chan zmq4.Msg, recvErr <-chan error) error {
	msg := first
	for {
		data, err := s.copyIntoRecvBuf(msg)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			finished, err := s.parser.Parse(data)
			if err != nil {
				return err
			}
			if finished {
				return nil
			}
		}
		// Spurious empty receives are retried silently.

		select {
		case msg = <-parts:
		case err := <-recvErr:
			return err
		}
	}
}

// copyIntoRecvBuf moves a message part into the owned receive buffer. The
// buffer is overwritten on every part; the sink must be done with the
// previous slice before the next receive.
func (s *Streamer) copyIntoRecvBuf(msg zmq4.Msg) ([]byte, error) {
	b := msg.Bytes()
	if len(b) > len(s.recvBuf) {
		return nil, fmt.Errorf("message part of %d bytes exceeds the %d-byte receive buffer; "+
			"raise archiver.source.read_buffer_mb", len(b), len(s.recvBuf))
	}
	n := copy(s.recvBuf, b)
	return s.recvBuf[:n], nil
}

// pump drains the socket into the parts channel until the socket closes.
// Multipart messages are flattened: the sink consumes the stream one part at
// a time, in wire order.
func (s *Streamer) pump(parts chan<- zmq4.Msg, recvErr chan<- error) {
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			recvErr <- err
			return
		}
		if len(msg.Frames) == 0 {
			parts <- msg
			continue
		}
		for _, frame := range msg.Frames {
			parts <- zmq4.NewMsg(frame)
		}
	}
}
