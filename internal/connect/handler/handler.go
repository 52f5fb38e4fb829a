package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/0xc0d3d00d/swapcandles/internal/numeric"
)

const (
	ServiceName = "candlegen.v1.CandleService"

	GetCandlesProcedure     = "/" + ServiceName + "/GetCandles"
	GetOpenCandlesProcedure = "/" + ServiceName + "/GetOpenCandles"

	// MaxCandlesPerRequest bounds the buckets a single GetCandles range may span.
	MaxCandlesPerRequest = 10000
)

type handler struct {
	candles candleReader
	open    openCandleSource
	now     func() time.Time
}

func NewHandler(candles candleReader, open openCandleSource) *handler {
	return &handler{
		candles: candles,
		open:    open,
		now:     time.Now,
	}
}

// HTTPHandler returns the service path prefix and its handler.
func (h *handler) HTTPHandler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec)}, opts...)

	mux := http.NewServeMux()
	mux.Handle(GetCandlesProcedure, connect.NewUnaryHandler(GetCandlesProcedure, h.GetCandles, opts...))
	mux.Handle(GetOpenCandlesProcedure, connect.NewUnaryHandler(GetOpenCandlesProcedure, h.GetOpenCandles, opts...))
	return "/" + ServiceName + "/", mux
}

func (h *handler) GetCandles(ctx context.Context, req *connect.Request[GetCandlesRequest]) (*connect.Response[GetCandlesResponse], error) {
	pair := strings.ToLower(req.Msg.Pair)
	if err := numeric.ValidatePairAddress(pair); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	tf, err := domain.ParseTimeframe(req.Msg.Timeframe)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	start, end := req.Msg.StartTime, req.Msg.EndTime
	if end.IsZero() {
		end = h.now()
	}
	if start.IsZero() {
		start = end.Add(-MaxCandlesPerRequest * tf.Duration())
	}
	if end.Before(start) {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("end_time is before start_time"))
	}
	if end.Sub(start)/tf.Duration() > MaxCandlesPerRequest {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("requested range spans too many candles"))
	}

	candles, err := h.candles.GetCandles(ctx, pair, tf, start.UTC(), end.UTC())
	if err != nil {
		return nil, errorToConnect(err)
	}

	return connect.NewResponse(&GetCandlesResponse{Candles: toAPICandles(candles)}), nil
}

func (h *handler) GetOpenCandles(_ context.Context, req *connect.Request[GetOpenCandlesRequest]) (*connect.Response[GetOpenCandlesResponse], error) {
	pair := strings.ToLower(req.Msg.Pair)
	if err := numeric.ValidatePairAddress(pair); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	open := h.open.OpenCandles(pair)
	candles := make([]*Candle, 0, len(open))
	for i := range open {
		candles = append(candles, toAPICandle(&open[i]))
	}

	return connect.NewResponse(&GetOpenCandlesResponse{Candles: candles}), nil
}

func errorToConnect(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, domain.ErrInvalidTimeframe), errors.Is(err, domain.ErrInvalidPairAddress):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
