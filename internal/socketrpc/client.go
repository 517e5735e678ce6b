package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/wikimannia/refreshstats/internal/model"
)

// defaultCallTimeout bounds a call whose context carries no deadline.
const defaultCallTimeout = 5 * time.Minute

// Client implements model.StatsService over a Unix domain socket using JSON-RPC 2.0.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

var _ model.StatsService = (*Client)(nil)

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), 16*scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(ctx context.Context, method string, params interface{}, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultCallTimeout)
	}
	c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})

	// Cancellation interrupts a blocked read.
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsData}
	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return errors.New("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.ID != id {
		return fmt.Errorf("socketrpc: response id %d, want %d", resp.ID, id)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

// Check asks the server for a read-only pass.
func (c *Client) Check(ctx context.Context) (model.Report, error) {
	var rep model.Report
	err := c.call(ctx, "Check", struct{}{}, &rep)
	return rep, err
}

// ReconcileAll asks the server to reconcile every counter.
func (c *Client) ReconcileAll(ctx context.Context) (model.Report, error) {
	var rep model.Report
	err := c.call(ctx, "ReconcileAll", struct{}{}, &rep)
	return rep, err
}

// ReconcileMetric asks the server to reconcile a single counter.
func (c *Client) ReconcileMetric(ctx context.Context, name string) (model.Report, error) {
	var rep model.Report
	err := c.call(ctx, "ReconcileMetric", map[string]string{"Metric": name}, &rep)
	return rep, err
}
