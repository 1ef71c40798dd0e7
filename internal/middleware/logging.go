package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"

	"github.com/AccountantBot/coordinator/pkg/api"
)

type splitRequest interface {
	GetSplitId() string
}

type splitResponse interface {
	GetSplit() *api.Split
}

type txResponse interface {
	GetTxHash() string
}

// LoggingInterceptor logs every RPC with its caller and, for split RPCs, the
// split it touched and the status it was left in.
func LoggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := []any{
				"procedure", req.Spec().Procedure,
				// Empty unless an auth interceptor runs before this one.
				"address", GetAddress(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			attrs = append(attrs, splitAttrs(req, resp, err)...)

			if err == nil {
				slog.Info("RPC ok", attrs...)
				return resp, nil
			}

			var connectErr *connect.Error
			if errors.As(err, &connectErr) && connectErr.Code() != connect.CodeInternal && connectErr.Code() != connect.CodeUnknown {
				slog.Warn("RPC error", append(attrs, "code", connectErr.Code(), "error", connectErr.Message())...)
			} else {
				slog.Error("RPC error", append(attrs, "error", err)...)
			}
			return resp, err
		}
	}
}

func splitAttrs(req connect.AnyRequest, resp connect.AnyResponse, err error) []any {
	var splitID string
	if r, ok := req.Any().(splitRequest); ok {
		splitID = r.GetSplitId()
	}

	var attrs []any
	if err == nil && resp != nil {
		msg := resp.Any()
		if r, ok := msg.(splitResponse); ok {
			if split := r.GetSplit(); split != nil {
				if splitID == "" {
					splitID = split.GetId()
				}
				attrs = append(attrs, "status", split.GetStatus())
			}
		}
		if r, ok := msg.(txResponse); ok && r.GetTxHash() != "" {
			attrs = append(attrs, "tx_hash", r.GetTxHash())
		}
	}
	if splitID == "" {
		return attrs
	}
	return append([]any{"split_id", splitID}, attrs...)
}
