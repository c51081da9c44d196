package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wagate-io/wagate/internal/apiclient"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the configured health endpoints concurrently",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}
}

// healthResult is one row of `health` output.
type healthResult struct {
	Endpoint string        `json:"endpoint"`
	OK       bool          `json:"ok"`
	Status   int           `json:"status,omitempty"`
	Latency  time.Duration `json:"latency_ns"`
	Error    string        `json:"error,omitempty"`
}

// errUnhealthy is returned when any endpoint fails.
var errUnhealthy = errors.New("one or more health checks failed")

// requester is the part of the API client health checks use.
type requester interface {
	Do(ctx context.Context, method, path string, body any) (*apiclient.Response, error)
}

func runHealth(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	s, err := openSession(cmd, args, logger)
	if err != nil {
		return err
	}

	results := checkHealth(cmd.Context(), s.Client, resolvedCfg.HealthEndpoints, resolvedCfg.HealthWorkers)

	var outErr error
	if flagJSON {
		outErr = printJSON(os.Stdout, results)
	} else {
		rows := make([][]string, 0, len(results))
		for _, r := range results {
			rows = append(rows, healthRow(r))
		}

		printTable(os.Stdout, []string{"ENDPOINT", "STATE", "STATUS", "LATENCY", "ERROR"}, rows)
	}

	for _, r := range results {
		if !r.OK {
			return finishCommand(s, errors.Join(outErr, errUnhealthy))
		}
	}

	return finishCommand(s, outErr)
}

// checkHealth GETs every endpoint with at most workers requests in flight.
// Results keep the order of endpoints. A failed check never cancels the
// others.
func checkHealth(ctx context.Context, api requester, endpoints []string, workers int) []healthResult {
	results := make([]healthResult, len(endpoints))

	var g errgroup.Group
	g.SetLimit(max(workers, 1))

	for i, ep := range endpoints {
		g.Go(func() error {
			results[i] = checkOne(ctx, api, ep)
			return nil
		})
	}

	_ = g.Wait() // checkOne never fails; errors live in the results

	return results
}

func checkOne(ctx context.Context, api requester, endpoint string) healthResult {
	start := time.Now()
	resp, err := api.Do(ctx, http.MethodGet, endpoint, nil)

	res := healthResult{Endpoint: endpoint, Latency: time.Since(start)}

	if err != nil {
		res.Error = err.Error()

		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) {
			res.Status = apiErr.Status
			res.Error = apiErr.Message
		}

		return res
	}

	res.OK = true
	res.Status = resp.StatusCode

	return res
}

func healthRow(r healthResult) []string {
	state := "ok"
	if !r.OK {
		state = "FAIL"
	}

	status := "-"
	if r.Status != 0 {
		status = strconv.Itoa(r.Status)
	}

	return []string{r.Endpoint, state, status, fmt.Sprint(r.Latency.Round(time.Millisecond)), r.Error}
}
