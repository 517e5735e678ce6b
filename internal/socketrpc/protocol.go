package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/wikimannia/refreshstats/internal/model"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes model.StatsService over a Unix domain socket.
//
//   Method            Params              Result
//   ───────────────   ─────────────────   ────────────
//   Check             (none)              model.Report
//   ReconcileAll      (none)              model.Report
//   ReconcileMetric   {Metric: string}    model.Report
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (pass aborted)
//   -32001  Unknown metric

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
	codeUnknownMetric  = -32001
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Unwrap maps application error codes back to their sentinel errors.
func (e *RPCError) Unwrap() error {
	if e.Code == codeUnknownMetric {
		return model.ErrUnknownMetric
	}
	return nil
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/refreshstats/refreshstats.sock, falling back to
// ~/.local/state/refreshstats/refreshstats.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "refreshstats", "refreshstats.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/refreshstats.sock"
	}
	return filepath.Join(home, ".local", "state", "refreshstats", "refreshstats.sock")
}
