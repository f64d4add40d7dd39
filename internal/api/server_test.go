package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ToolFlow/internal/engine"
	"ToolFlow/internal/plan"
	"ToolFlow/internal/provider"
	"ToolFlow/internal/provider/local"
	"ToolFlow/internal/run"
)

func newTestServer(t *testing.T) (*Server, *run.Service) {
	t.Helper()
	registry := provider.NewRegistry()
	if err := registry.Register(context.Background(), local.New("local")); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	service := run.NewService(run.NewMemoryStore(), run.NewMemoryQueue(16), 3)
	eng := engine.New(registry)
	return NewServer(":0", service, eng, registry), service
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.NewDecoder(recorder.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestSubmitRunAccepted(t *testing.T) {
	server, _ := newTestServer(t)

	body := `{"plan":{"strategy":"SINGLE","calls":[{"step":1,"tool_name":"add","parameters":{"a":1,"b":2}}]}}`
	request := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	server.handleRuns(recorder, request)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var created run.Run
	decodeBody(t, recorder, &created)
	if created.ID == "" || created.Status != run.StatusPending {
		t.Fatalf("unexpected run: %+v", created)
	}
}

func TestSubmitRunRejectsInvalidPlan(t *testing.T) {
	server, _ := newTestServer(t)

	body := `{"plan":{"strategy":"SINGLE","calls":[{"step":1,"tool_name":"a"},{"step":2,"tool_name":"b"}]}}`
	request := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	server.handleRuns(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var payload errorBody
	decodeBody(t, recorder, &payload)
	if payload.Error.Code != string(plan.CodePlanInvalid) {
		t.Fatalf("unexpected error payload: %+v", payload)
	}
}

func TestGetRunByID(t *testing.T) {
	server, service := newTestServer(t)

	created, err := service.Submit(context.Background(), run.SubmitRequest{
		Plan: &plan.ExecutionPlan{
			Strategy: plan.StrategySingle,
			Calls:    []*plan.ToolCall{{Step: 1, ToolName: "add"}},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+created.ID, nil)
	recorder := httptest.NewRecorder()
	server.handleRunPath(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var fetched run.Run
	decodeBody(t, recorder, &fetched)
	if fetched.ID != created.ID {
		t.Fatalf("unexpected run: %+v", fetched)
	}
}

func TestGetRunNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	request := httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil)
	recorder := httptest.NewRecorder()
	server.handleRunPath(recorder, request)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var payload errorBody
	decodeBody(t, recorder, &payload)
	if payload.Error.Code != string(run.CodeRunNotFound) {
		t.Fatalf("unexpected error payload: %+v", payload)
	}
}

func TestRunStatsEndpoint(t *testing.T) {
	server, service := newTestServer(t)

	for i := 0; i < 2; i++ {
		if _, err := service.Submit(context.Background(), run.SubmitRequest{
			Plan: &plan.ExecutionPlan{
				Strategy: plan.StrategySingle,
				Calls:    []*plan.ToolCall{{Step: 1, ToolName: "add"}},
			},
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	request := httptest.NewRequest(http.MethodGet, "/api/v1/runs/stats", nil)
	recorder := httptest.NewRecorder()
	server.handleRunPath(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var stats run.RunStats
	decodeBody(t, recorder, &stats)
	if stats.Total != 2 || stats.Pending != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestExecuteSynchronously(t *testing.T) {
	server, _ := newTestServer(t)

	body := `{
		"strategy": "SEQUENTIAL",
		"calls": [
			{"step":1,"tool_name":"add","parameters":{"a":3,"b":4},"result_variable":"sum"},
			{"step":2,"tool_name":"multiply","parameters":{"a":"${sum}","b":10},"depends_on":[1]}
		]
	}`
	request := httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	server.handleExecute(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var result plan.ExecutionResult
	decodeBody(t, recorder, &result)
	if !result.OverallSuccess {
		t.Fatalf("expected success: %+v", result)
	}
	if result.FinalValue != float64(70) {
		t.Fatalf("unexpected final value: %v", result.FinalValue)
	}
}

func TestToolsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	request := httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil)
	recorder := httptest.NewRecorder()
	server.handleTools(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var tools []provider.ToolDescriptor
	decodeBody(t, recorder, &tools)
	found := false
	for _, tool := range tools {
		if tool.Name == "add" && tool.Provider == "local" {
			found = true
		}
	}
	if !found {
		t.Fatalf("add tool missing from listing: %+v", tools)
	}
}

func TestRunsMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)

	request := httptest.NewRequest(http.MethodPut, "/api/v1/runs", nil)
	recorder := httptest.NewRecorder()
	server.handleRuns(recorder, request)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestListOptionsFromQuery(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet,
		"/api/v1/runs?limit=5&offset=2&status=pending,failed&strategy=PARALLEL&has_result=true&order=asc", nil)
	opts := listOptionsFromQuery(request)
	// 六个过滤项全部命中。
	if len(opts) != 6 {
		t.Fatalf("expected 6 options, got %d", len(opts))
	}
}
