package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/annotations"
	"github.com/kozaktomas/face-retrieval/internal/logger"
	"github.com/kozaktomas/face-retrieval/internal/metrics"
	"github.com/kozaktomas/face-retrieval/internal/ranking"
	"github.com/kozaktomas/face-retrieval/internal/session"
)

// Sessions is the session manager surface the dispatcher calls.
type Sessions interface {
	OpenSession(dataset string) (uint64, error)
	AddTrainingImage(ctx context.Context, id uint64, req session.AddImageRequest) (bool, error)
	Train(ctx context.Context, id uint64) error
	Rank(id uint64) error
	GetRanking(id uint64) ([]ranking.Entry, error)
	ReleaseSession(id uint64) error
	SaveAnnotations(ctx context.Context, id uint64, key string) error
	GetAnnotations(ctx context.Context, key string) ([]annotations.Record, error)
	CheckClassifierRequest(id uint64, path string) error
}

type handlerFunc func(ctx context.Context, req *Request) (any, error)

// Dispatcher maps operations to session manager calls. Failures never escape as
// errors or panics; they are encoded in the reply.
type Dispatcher struct {
	sessions Sessions
	handlers map[Operation]handlerFunc
	log      *zap.Logger
}

// NewDispatcher builds the operation table.
func NewDispatcher(sessions Sessions, log *zap.Logger) *Dispatcher {
	d := &Dispatcher{sessions: sessions, log: log}
	d.handlers = map[Operation]handlerFunc{
		OpSelfTest:        d.selfTest,
		OpGetQueryID:      d.getQueryID,
		OpAddPosTrs:       d.addTrs(true),
		OpAddNegTrs:       d.addTrs(false),
		OpTrain:           d.train,
		OpRank:            d.rank,
		OpGetRanking:      d.getRanking,
		OpReleaseQueryID:  d.releaseQueryID,
		OpSaveAnnotations: d.saveAnnotations,
		OpGetAnnotations:  d.getAnnotations,
		OpLoadClassifier:  d.checkClassifier,
		OpSaveClassifier:  d.checkClassifier,
		OpTestFunc:        d.testFunc,
	}
	return d
}

// Serve decodes one request payload, runs it and returns the encoded reply.
func (d *Dispatcher) Serve(ctx context.Context, payload []byte) []byte {
	reply := d.Handle(ctx, payload)
	data, err := json.Marshal(reply)
	if err != nil {
		d.log.Error("encoding reply", zap.Error(err))
		data, _ = json.Marshal(ErrorResponse{Error: CodeInternal, Message: "failed to encode reply"})
	}
	return data
}

// Handle decodes and runs one request and returns the reply value.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) any {
	req, err := DecodeRequest(payload)
	if err != nil {
		return NewErrorResponse(fmt.Errorf("%w: %v", session.ErrInvalidRequest, err))
	}
	return d.Dispatch(ctx, req)
}

// Dispatch runs a decoded request.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (reply any) {
	log := logger.FromContextOr(ctx, d.log)
	op, ok := ParseOperation(req.Func)
	if !ok {
		metrics.OperationsTotal.WithLabelValues("unknown", "error").Inc()
		return NewErrorResponse(fmt.Errorf("%w: unsupported func %q", session.ErrInvalidRequest, req.Func))
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("operation panicked", zap.Stringer("operation", op), zap.Any("panic", r))
			metrics.OperationsTotal.WithLabelValues(op.String(), "error").Inc()
			reply = ErrorResponse{Error: CodeInternal, Message: fmt.Sprintf("%s failed", op)}
		}
	}()

	out, err := d.handlers[op](ctx, req)
	if err != nil {
		code := ErrorCode(err)
		if code == CodeInternal {
			log.Error("operation failed", zap.Stringer("operation", op), zap.Error(err))
		} else {
			log.Info("operation rejected", zap.Stringer("operation", op), zap.String("code", code), zap.Error(err))
		}
		metrics.OperationsTotal.WithLabelValues(op.String(), "error").Inc()
		return NewErrorResponse(err)
	}
	metrics.OperationsTotal.WithLabelValues(op.String(), "ok").Inc()
	return out
}

// MaxQueryID is the largest session id the protocol carries. Ids travel as JSON
// numbers, which are exact integers only up to 2^53.
const MaxQueryID = 1 << 53

func queryID(req *Request) (uint64, error) {
	if req.QueryID == nil {
		return 0, fmt.Errorf("%w: query_id is required", session.ErrInvalidRequest)
	}
	v := float64(*req.QueryID)
	if v < 0 || v > MaxQueryID || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: invalid query_id %v", session.ErrInvalidRequest, v)
	}
	return uint64(v), nil
}

func success() (any, error) { return Response{Success: true}, nil }

func (d *Dispatcher) selfTest(context.Context, *Request) (any, error) {
	return success()
}

func (d *Dispatcher) getQueryID(_ context.Context, req *Request) (any, error) {
	id, err := d.sessions.OpenSession(req.Dataset)
	if err != nil {
		return nil, err
	}
	return QueryIDResponse{Success: true, QueryID: id}, nil
}

func (d *Dispatcher) addTrs(positive bool) handlerFunc {
	return func(ctx context.Context, req *Request) (any, error) {
		id, err := queryID(req)
		if err != nil {
			return nil, err
		}
		add := session.AddImageRequest{
			Path:       req.ImPath,
			Positive:   positive,
			ExternalID: session.NoExternalID,
		}
		if p := req.ExtraParams; p != nil {
			add.FromDataset = p.FromDataset
			if p.URI != nil {
				add.ExternalID = int64(*p.URI)
			}
			for _, v := range p.ROI {
				add.ROIPoints = append(add.ROIPoints, float64(v))
			}
		}
		if _, err := d.sessions.AddTrainingImage(ctx, id, add); err != nil {
			return nil, err
		}
		return success()
	}
}

func (d *Dispatcher) train(ctx context.Context, req *Request) (any, error) {
	id, err := queryID(req)
	if err != nil {
		return nil, err
	}
	if err := d.sessions.Train(ctx, id); err != nil {
		return nil, err
	}
	return success()
}

func (d *Dispatcher) rank(_ context.Context, req *Request) (any, error) {
	id, err := queryID(req)
	if err != nil {
		return nil, err
	}
	if err := d.sessions.Rank(id); err != nil {
		return nil, err
	}
	return success()
}

func (d *Dispatcher) getRanking(_ context.Context, req *Request) (any, error) {
	id, err := queryID(req)
	if err != nil {
		return nil, err
	}
	entries, err := d.sessions.GetRanking(id)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []ranking.Entry{}
	}
	return RankingResponse{Success: true, RankList: entries}, nil
}

func (d *Dispatcher) releaseQueryID(_ context.Context, req *Request) (any, error) {
	id, err := queryID(req)
	if err != nil {
		return nil, err
	}
	if err := d.sessions.ReleaseSession(id); err != nil {
		return nil, err
	}
	return success()
}

func (d *Dispatcher) saveAnnotations(ctx context.Context, req *Request) (any, error) {
	id, err := queryID(req)
	if err != nil {
		return nil, err
	}
	if err := d.sessions.SaveAnnotations(ctx, id, req.FilePath); err != nil {
		return nil, err
	}
	return success()
}

func (d *Dispatcher) getAnnotations(ctx context.Context, req *Request) (any, error) {
	records, err := d.sessions.GetAnnotations(ctx, req.FilePath)
	if err != nil {
		return nil, err
	}
	return AnnotationsResponse{Success: true, Annos: NewAnnotations(records)}, nil
}

func (d *Dispatcher) checkClassifier(_ context.Context, req *Request) (any, error) {
	id, err := queryID(req)
	if err != nil {
		return nil, err
	}
	if err := d.sessions.CheckClassifierRequest(id, req.FilePath); err != nil {
		return nil, err
	}
	return success()
}

// testFunc echoes the request.
func (d *Dispatcher) testFunc(_ context.Context, req *Request) (any, error) {
	if len(req.raw) == 0 {
		return req, nil
	}
	return req.raw, nil
}
