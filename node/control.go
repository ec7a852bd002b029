package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bedrockdb/bedrock/core"
)

// statusResponse is the JSON body of GET /status on the control port.
type statusResponse struct {
	NodeName      string `json:"nodeName"`
	State         string `json:"state"`
	LegacyState   string `json:"legacyState,omitempty"`
	Priority      int    `json:"priority"`
	CommitIndex   int64  `json:"commitIndex"`
	ParkedOnHTTPS int    `json:"parkedOnHttps"`
	CommandCount  int64  `json:"commandCount"`
}

// ControlServer exposes the node's status and health over HTTP (§6),
// wrapped in the same logging/recovery/CORS middleware stack the control
// port uses elsewhere in this codebase.
type ControlServer struct {
	ctrl   *Controller
	server *http.Server
	logger core.Logger
}

// NewControlServer builds the control port's HTTP server bound to addr.
// devMode enables verbose request logging; cors may be nil to disable CORS
// entirely.
func NewControlServer(ctrl *Controller, addr string, logger core.Logger, devMode bool, cors *core.CORSConfig) *ControlServer {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	mux := http.NewServeMux()
	cs := &ControlServer{ctrl: ctrl, logger: logger}
	mux.HandleFunc("/status", cs.handleStatus)
	mux.HandleFunc("/health", cs.handleHealth)

	var handler http.Handler = mux
	if cors != nil {
		handler = core.CORSMiddleware(cors)(handler)
	}
	handler = core.RecoveryMiddleware(logger)(handler)
	handler = core.LoggingMiddleware(logger, devMode)(handler)

	cs.server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return cs
}

func (cs *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	role, effectivePriority := cs.ctrl.role.Current()
	resp := statusResponse{
		NodeName:      cs.ctrl.NodeName(),
		State:         string(role),
		Priority:      effectivePriority,
		CommitIndex:   cs.ctrl.role.CommitIndex(),
		ParkedOnHTTPS: cs.ctrl.WaitQueueLen(),
		CommandCount:  core.CommandCount(),
	}
	if alias, ok := LegacyAliases[role]; ok {
		resp.LegacyState = alias
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		cs.logger.Error("encoding status response", map[string]interface{}{"error": err.Error()})
	}
}

func (cs *ControlServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Start runs the control port's HTTP server until the context is canceled
// or the server fails to serve.
func (cs *ControlServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := cs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return cs.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
