package mcp

import (
	"context"
	"log/slog"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/usestring/trafficlab/internal/mcp/tools"
)

// LoggingMiddleware returns middleware that logs all incoming method calls.
// Tool calls are tagged with the tool name and, on failure, the error code.
func LoggingMiddleware(logger *slog.Logger) sdkmcp.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			start := time.Now()

			result, err := next(ctx, method, req)

			attrs := []slog.Attr{
				slog.String("method", method),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			if call, ok := req.(*sdkmcp.CallToolRequest); ok && call.Params != nil {
				attrs = append(attrs, slog.String("tool", call.Params.Name))
			}

			if res, ok := result.(*sdkmcp.CallToolResult); ok && res != nil && res.IsError {
				attrs = append(attrs, slog.Bool("tool_error", true))
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				if code := tools.ErrorCode(err); code != "" {
					attrs = append(attrs, slog.String("code", code))
				}
				logger.LogAttrs(ctx, slog.LevelError, "method call failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelDebug, "method call completed", attrs...)
			}

			return result, err
		}
	}
}
