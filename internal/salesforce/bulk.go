package salesforce

import (
	"context"
	"net/http"
	"strings"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
)

type jobInfo struct {
	ID              string `json:"id,omitempty"`
	Operation       string `json:"operation,omitempty"`
	Object          string `json:"object,omitempty"`
	ContentType     string `json:"contentType,omitempty"`
	ConcurrencyMode string `json:"concurrencyMode,omitempty"`
	State           string `json:"state,omitempty"`
}

type batchInfo struct {
	ID           string `json:"id"`
	JobID        string `json:"jobId"`
	State        string `json:"state"`
	StateMessage string `json:"stateMessage"`
}

func (b batchInfo) info() connection.BatchInfo {
	return connection.BatchInfo{ID: b.ID, State: connection.BatchState(b.State), Message: b.StateMessage}
}

// CreateJob opens a Bulk API 1.0 job with JSON content.
func (c *Client) CreateJob(ctx context.Context, spec connection.JobSpec) (string, error) {
	in := jobInfo{
		Operation:       string(spec.Operation),
		Object:          spec.Object,
		ContentType:     "JSON",
		ConcurrencyMode: string(spec.Mode),
	}
	var out jobInfo
	if err := c.doJSON(ctx, http.MethodPost, c.asyncURL("job"), true, in, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// AddBatch submits records as one batch of a DML job.
func (c *Client) AddBatch(ctx context.Context, jobID string, records []connection.Payload) (string, error) {
	var out batchInfo
	if err := c.doJSON(ctx, http.MethodPost, c.asyncURL("job/"+jobID+"/batch"), true, records, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// AddQueryBatch submits soql as the batch of a query job.
func (c *Client) AddQueryBatch(ctx context.Context, jobID string, soql string) (string, error) {
	var out batchInfo
	err := c.do(ctx, http.MethodPost, c.asyncURL("job/"+jobID+"/batch"), true,
		"application/json; charset=UTF-8", strings.NewReader(soql), &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// CloseJob marks the job as accepting no more batches.
func (c *Client) CloseJob(ctx context.Context, jobID string) error {
	return c.doJSON(ctx, http.MethodPost, c.asyncURL("job/"+jobID), true, jobInfo{State: "Closed"}, nil)
}

// BatchStatus returns the batch's current state.
func (c *Client) BatchStatus(ctx context.Context, jobID, batchID string) (connection.BatchInfo, error) {
	var out batchInfo
	if err := c.doJSON(ctx, http.MethodGet, c.asyncURL("job/"+jobID+"/batch/"+batchID), true, nil, &out); err != nil {
		return connection.BatchInfo{}, err
	}
	return out.info(), nil
}

// BatchResults returns the per-record results of a DML batch.
func (c *Client) BatchResults(ctx context.Context, jobID, batchID string) ([]connection.Result, error) {
	var out []connection.Result
	if err := c.doJSON(ctx, http.MethodGet, c.asyncURL("job/"+jobID+"/batch/"+batchID+"/result"), true, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryResultIDs lists the result sets of a query batch.
func (c *Client) QueryResultIDs(ctx context.Context, jobID, batchID string) ([]string, error) {
	var out []string
	if err := c.doJSON(ctx, http.MethodGet, c.asyncURL("job/"+jobID+"/batch/"+batchID+"/result"), true, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryResult fetches one result set of a query batch.
func (c *Client) QueryResult(ctx context.Context, jobID, batchID, resultID string) ([]map[string]any, error) {
	var out []map[string]any
	target := c.asyncURL("job/" + jobID + "/batch/" + batchID + "/result/" + resultID)
	if err := c.doJSON(ctx, http.MethodGet, target, true, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ connection.API = (*Client)(nil)
