package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bedrockdb/bedrock/core"
)

// Controller is the subset of node.Controller the command port needs;
// declared here (rather than importing node) to avoid a dependency cycle,
// matching the plugin.NodeRef pattern.
type Controller interface {
	Submit(ctx context.Context, cmd *core.Command) error
	Deliveries() <-chan *core.Command
}

// Server accepts connections on the command port, decodes one Frame per
// request, submits the resulting Command to a Controller, and writes back
// the finalized response frame.
type Server struct {
	listener  net.Listener
	ctrl      Controller
	codec     *Codec
	logger    core.Logger
	telemetry core.Telemetry

	mu      sync.Mutex
	waiters map[string]chan *core.Command
}

// NewServer wraps an already-bound listener. logger and tel may be nil.
func NewServer(listener net.Listener, ctrl Controller, logger core.Logger, tel core.Telemetry) *Server {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if tel == nil {
		tel = core.NoOpTelemetry{}
	}
	return &Server{listener: listener, ctrl: ctrl, codec: NewCodec(), logger: logger, telemetry: tel, waiters: make(map[string]chan *core.Command)}
}

// Serve accepts connections and dispatches deliveries until ctx is
// canceled or the listener errors. Controller.Deliveries() is a single
// shared channel across every connection, so one goroutine demuxes it by
// command ID to the connection that submitted it.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()
	go s.dispatchDeliveries(ctx)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) dispatchDeliveries(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.ctrl.Deliveries():
			s.mu.Lock()
			waiter, ok := s.waiters[cmd.ID]
			delete(s.waiters, cmd.ID)
			s.mu.Unlock()
			if ok {
				waiter <- cmd
			}
		}
	}
}

func (s *Server) register(id string) chan *core.Command {
	ch := make(chan *core.Command, 1)
	s.mu.Lock()
	s.waiters[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.waiters, id)
	s.mu.Unlock()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		frame, err := s.codec.Decode(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Error("decoding command frame", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		cmd := core.NewCommandFromRequest(frame.ToRequest())
		forget := frame.Headers[core.HeaderConnection] == core.ConnectionForget
		start := time.Now()

		var waiter chan *core.Command
		if !forget {
			waiter = s.register(cmd.ID)
		}

		if err := s.ctrl.Submit(ctx, cmd); err != nil {
			if !forget {
				s.unregister(cmd.ID)
			}
			s.logger.Error("submitting command", map[string]interface{}{"error": err.Error()})
			s.telemetry.RecordMetric("bedrock.command.errors", 1, map[string]string{
				"method": cmd.Request[core.HeaderMethodLine],
				"reason": "submit_failed",
			})
			return
		}

		if forget {
			continue
		}

		select {
		case delivered := <-waiter:
			s.telemetry.RecordMetric("bedrock.command.duration_ms", float64(time.Since(start).Milliseconds()), map[string]string{
				"method": cmd.Request[core.HeaderMethodLine],
				"status": responseStatus(delivered),
			})
			if err := s.codec.Encode(conn, responseFrame(delivered)); err != nil {
				s.logger.Error("writing command response", map[string]interface{}{"error": err.Error()})
				return
			}
		case <-ctx.Done():
			s.unregister(cmd.ID)
			return
		}
	}
}

// responseStatus classifies a command's status line for the "status"
// metric label: anything outside the 2xx range counts as an error.
func responseStatus(cmd *core.Command) string {
	if len(cmd.Response.Status) >= 3 && cmd.Response.Status[0] == '2' {
		return "success"
	}
	return "error"
}

func responseFrame(cmd *core.Command) Frame {
	headers := make(map[string]string, len(cmd.Response.Headers)+1)
	for k, v := range cmd.Response.Headers {
		headers[k] = v
	}
	return Frame{MethodLine: cmd.Response.Status, Headers: headers, Body: cmd.Response.Body}
}
