package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kozaktomas/face-retrieval/internal/engine"
	"github.com/kozaktomas/face-retrieval/internal/ranking"
)

// RemoteError is a failure reported by the engine in the reply envelope.
type RemoteError struct {
	Func    string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed: %s", e.Func, e.Code)
	}
	return fmt.Sprintf("%s failed: %s: %s", e.Func, e.Code, e.Message)
}

// QueryClient runs the query operations over a Client.
type QueryClient struct {
	client *Client
}

// NewQueryClient wraps c.
func NewQueryClient(c *Client) *QueryClient {
	return &QueryClient{client: c}
}

// do sends req and, when the engine reports success, decodes the reply into out.
func (q *QueryClient) do(ctx context.Context, req engine.Request, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	reply, err := q.client.CallRaw(ctx, payload)
	if err != nil {
		return err
	}

	var envelope engine.ErrorResponse
	if err := json.Unmarshal(reply, &envelope); err != nil {
		return fmt.Errorf("decoding %s reply: %w", req.Func, err)
	}
	if !envelope.Success {
		return &RemoteError{Func: req.Func, Code: envelope.Error, Message: envelope.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply, out); err != nil {
		return fmt.Errorf("decoding %s reply: %w", req.Func, err)
	}
	return nil
}

func queryRequest(op engine.Operation, id uint64) engine.Request {
	n := engine.Number(id)
	return engine.Request{Func: op.String(), QueryID: &n}
}

// SelfTest checks the engine is alive.
func (q *QueryClient) SelfTest(ctx context.Context) error {
	return q.do(ctx, engine.Request{Func: engine.OpSelfTest.String()}, nil)
}

// Open starts a query session on dataset.
func (q *QueryClient) Open(ctx context.Context, dataset string) (uint64, error) {
	var resp engine.QueryIDResponse
	if err := q.do(ctx, engine.Request{Func: engine.OpGetQueryID.String(), Dataset: dataset}, &resp); err != nil {
		return 0, err
	}
	return resp.QueryID, nil
}

// AddImage adds a positive or negative training image.
func (q *QueryClient) AddImage(ctx context.Context, id uint64, path string, positive bool) error {
	op := engine.OpAddNegTrs
	if positive {
		op = engine.OpAddPosTrs
	}
	req := queryRequest(op, id)
	req.ImPath = path
	return q.do(ctx, req, nil)
}

// Train computes the session fingerprint.
func (q *QueryClient) Train(ctx context.Context, id uint64) error {
	return q.do(ctx, queryRequest(engine.OpTrain, id), nil)
}

// Rank ranks the dataset against the session fingerprint.
func (q *QueryClient) Rank(ctx context.Context, id uint64) error {
	return q.do(ctx, queryRequest(engine.OpRank, id), nil)
}

// Ranking fetches the stored ranking.
func (q *QueryClient) Ranking(ctx context.Context, id uint64) ([]ranking.Entry, error) {
	var resp engine.RankingResponse
	if err := q.do(ctx, queryRequest(engine.OpGetRanking, id), &resp); err != nil {
		return nil, err
	}
	return resp.RankList, nil
}

// Release drops the session.
func (q *QueryClient) Release(ctx context.Context, id uint64) error {
	return q.do(ctx, queryRequest(engine.OpReleaseQueryID, id), nil)
}
