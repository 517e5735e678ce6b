package socketrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/wikimannia/refreshstats/internal/logger"
	"github.com/wikimannia/refreshstats/internal/model"
)

// stubService returns fixed reports for dispatch unit testing.
type stubService struct {
	err error
}

func (s *stubService) Check(context.Context) (model.Report, error) {
	return model.Report{DryRun: true, OK: true}, s.err
}

func (s *stubService) ReconcileAll(context.Context) (model.Report, error) {
	return model.Report{OK: true}, s.err
}

func (s *stubService) ReconcileMetric(_ context.Context, name string) (model.Report, error) {
	d, err := model.Lookup(model.Descriptors(nil), name)
	if err != nil {
		return model.Report{}, err
	}
	return model.Report{OK: true, Results: []model.Result{{Metric: d.Metric, Status: model.StatusConsistent}}}, s.err
}

func newTestDispatcher(err error) *Server {
	return NewServer("", &stubService{err: err}, logger.NewNop())
}

func TestDispatch_AllMethods(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher(nil)

	tests := []struct {
		method string
		params string
	}{
		{"Check", `{}`},
		{"ReconcileAll", `{}`},
		{"ReconcileMetric", `{"Metric":"users"}`},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			t.Parallel()
			resp := srv.dispatch(context.Background(), Request{
				JSONRPC: "2.0",
				ID:      1,
				Method:  tt.method,
				Params:  json.RawMessage(tt.params),
			})
			if resp.Error != nil {
				t.Fatalf("dispatch(%s) error: %s", tt.method, resp.Error.Message)
			}
			var rep model.Report
			if err := json.Unmarshal(resp.Result, &rep); err != nil {
				t.Fatalf("dispatch(%s) result: %v", tt.method, err)
			}
			if !rep.OK {
				t.Errorf("dispatch(%s) report not ok", tt.method)
			}
			if resp.JSONRPC != "2.0" {
				t.Errorf("JSONRPC = %q, want 2.0", resp.JSONRPC)
			}
			if resp.ID != 1 {
				t.Errorf("ID = %d, want 1", resp.ID)
			}
		})
	}
}

func TestDispatch_NilParamsOnParameterlessMethods(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher(nil)

	for _, method := range []string{"Check", "ReconcileAll"} {
		resp := srv.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: 1, Method: method})
		if resp.Error != nil {
			t.Fatalf("dispatch(%s) with nil params: %s", method, resp.Error.Message)
		}
	}
}

func TestDispatch_MethodNotFound(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher(nil)

	resp := srv.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: 1, Method: "DropTables"})
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != codeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, codeMethodNotFound)
	}
}

func TestDispatch_InvalidParams(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher(nil)

	for _, params := range []string{`not json`, `{}`, ``} {
		resp := srv.dispatch(context.Background(), Request{
			JSONRPC: "2.0",
			ID:      2,
			Method:  "ReconcileMetric",
			Params:  json.RawMessage(params),
		})
		if resp.Error == nil {
			t.Fatalf("params %q: expected error", params)
		}
		if resp.Error.Code != codeInvalidParams {
			t.Errorf("params %q: error code = %d, want %d", params, resp.Error.Code, codeInvalidParams)
		}
	}
}

func TestDispatch_UnknownMetric(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher(nil)

	resp := srv.dispatch(context.Background(), Request{
		JSONRPC: "2.0",
		ID:      3,
		Method:  "ReconcileMetric",
		Params:  json.RawMessage(`{"Metric":"edits"}`),
	})
	if resp.Error == nil || resp.Error.Code != codeUnknownMetric {
		t.Fatalf("error = %+v, want code %d", resp.Error, codeUnknownMetric)
	}
	if !errors.Is(resp.Error, model.ErrUnknownMetric) {
		t.Error("RPCError should unwrap to model.ErrUnknownMetric")
	}
}

func TestDispatch_ApplicationError(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher(context.Canceled)

	resp := srv.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: 4, Method: "ReconcileAll"})
	if resp.Error == nil || resp.Error.Code != codeApplication {
		t.Fatalf("error = %+v, want code %d", resp.Error, codeApplication)
	}
	if resp.Result != nil {
		t.Errorf("result should be empty on error, got %s", resp.Result)
	}
}

func TestDispatch_PreservesRequestID(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher(nil)

	for _, id := range []int{0, 1, 42, 9999} {
		resp := srv.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: id, Method: "Check"})
		if resp.ID != id {
			t.Errorf("request ID %d: response ID = %d", id, resp.ID)
		}
	}
}
