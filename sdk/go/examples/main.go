package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ToolFlow/sdk/go/toolflow"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(toolflow.Run{
				ID:     "run-demo",
				Status: "pending",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/runs/run-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(toolflow.Run{
			ID:     "run-demo",
			Status: "succeeded",
			Result: &toolflow.ExecutionResult{
				Strategy:       "SEQUENTIAL",
				OverallSuccess: true,
				FinalValue:     float64(12),
				Outcomes: []toolflow.StepOutcome{
					{Step: 1, ToolName: "add", Success: true, Value: float64(7)},
					{Step: 2, ToolName: "multiply", Success: true, Value: float64(12)},
				},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := toolflow.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.SubmitRun(ctx, toolflow.Plan{
		Strategy: "SEQUENTIAL",
		Calls: []toolflow.ToolCall{
			{Step: 1, ToolName: "add", Parameters: map[string]any{"a": 3, "b": 4}, ResultVariable: "sum"},
			{Step: 2, ToolName: "multiply", Parameters: map[string]any{"a": "${sum}", "b": 2}, DependsOn: []int{1}},
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted run %s (status=%s)\n", created.ID, created.Status)

	final, err := client.WaitForRun(ctx, created.ID, 200*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("run %s finished: overall_success=%v final=%v\n", final.ID, final.Result.OverallSuccess, final.Result.FinalValue)
}
