package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"NFTMarket-Harness/sdk/go/market"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(market.Run{
			ID:         "run-demo",
			Scenario:   "series",
			Network:    "sandbox",
			Status:     market.StatusPending,
			MaxRetries: 3,
			CreatedAt:  time.Now().Unix(),
		})
	})
	mux.HandleFunc("/api/v1/runs/run-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(market.Run{
			ID:         "run-demo",
			Scenario:   "series",
			Network:    "sandbox",
			Status:     market.StatusPassed,
			Attempts:   1,
			MaxRetries: 3,
			Report: &market.Report{
				Scenario: "series",
				Network:  "sandbox",
				Verdict:  "passed",
				Steps:    []market.Step{{Name: "nft_create_series", Verdict: "passed"}},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := market.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := client.SubmitRun(ctx, market.RunRequest{Scenario: "series", Network: "sandbox"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted run %s (status=%s)\n", run.ID, run.Status)

	done, err := client.WaitForRun(ctx, run.ID, 500*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("run %s finished: %s with %d steps\n", done.ID, done.Status, len(done.Report.Steps))
}
