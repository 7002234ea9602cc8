package logger

import (
	"context"
	"fmt"
	log "log/slog"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
)

const mongoSlowThreshold = 200 * time.Millisecond

// NewMongoMonitor 命令日志。redacted 中的集合只记录命令名，不输出文档内容（聊天正文）
func NewMongoMonitor(redacted ...string) *event.CommandMonitor {
	return &event.CommandMonitor{
		Started: func(ctx context.Context, evt *event.CommandStartedEvent) {
			log.DebugContext(ctx, "MongoDB Started",
				log.String("command", evt.CommandName),
				log.String("database", evt.DatabaseName),
				log.String("request_id", fmt.Sprintf("%d", evt.RequestID)),
				log.String("cmd_detail", commandDetail(evt.CommandName, evt.Command, redacted)),
			)
		},
		Succeeded: func(ctx context.Context, evt *event.CommandSucceededEvent) {
			if evt.Duration > mongoSlowThreshold {
				log.WarnContext(ctx, "MongoDB Slow",
					log.String("command", evt.CommandName),
					log.Duration("latency", evt.Duration),
					log.String("request_id", fmt.Sprintf("%d", evt.RequestID)),
				)
			}
		},
		Failed: func(ctx context.Context, evt *event.CommandFailedEvent) {
			failure := fmt.Sprint(evt.Failure)
			fields := []any{
				log.String("command", evt.CommandName),
				log.Duration("latency", evt.Duration),
				log.String("request_id", fmt.Sprintf("%d", evt.RequestID)),
				log.String("err", failure),
			}
			// 事务写冲突由 WithTransaction 自动重试
			if isTransient(failure) {
				log.WarnContext(ctx, "MongoDB Transaction Conflict", fields...)
				return
			}
			log.ErrorContext(ctx, "MongoDB Error", fields...)
		},
	}
}

func commandDetail(name string, cmd bson.Raw, redacted []string) string {
	if coll, ok := cmd.Lookup(name).StringValueOK(); ok && slices.Contains(redacted, coll) {
		switch name {
		case "insert", "update", "findAndModify", "delete":
			return "[REDACTED " + coll + "]"
		}
	}
	s := cmd.String()
	if len(s) > 1000 {
		s = s[:1000] + "...[truncated]"
	}
	return s
}

func isTransient(failure string) bool {
	return strings.Contains(failure, "WriteConflict") || strings.Contains(failure, "TransientTransactionError")
}
