package spartan

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// QueryLog is an optional, machine-parseable audit trail of completed
// queries, separate from Log's operational debug/info tracing: one line
// per finished FSM, with the outcome an operator or log-shipper would want
// to query on (winner, rcode-equivalent outcome, latency) rather than the
// state-by-state trace Log carries at debug level.
type QueryLog struct {
	logger *slog.Logger
}

// NewQueryLog returns a QueryLog writing to outputFile, or to stdout if
// outputFile is empty.
func NewQueryLog(outputFile string) (*QueryLog, error) {
	w := os.Stdout
	if outputFile != "" {
		f, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		w = f
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "msg" || a.Key == "level" {
				return slog.Attr{}
			}
			return a
		},
	}))
	return &QueryLog{logger: logger}, nil
}

// Outcome values recorded for a completed query.
const (
	OutcomeDelivered = "delivered"
	OutcomeServfail  = "servfail"
	OutcomeTimedOut  = "timed_out"
)

// LogQuery records one completed query.
func (l *QueryLog) LogQuery(id QueryID, ci ClientInfo, qname, outcome, winner string, latency time.Duration) {
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "",
		slog.String("query", id.String()),
		slog.String("source-ip", ci.SourceIP.String()),
		slog.String("protocol", ci.Protocol),
		slog.String("question-name", qname),
		slog.String("outcome", outcome),
		slog.String("winner", winner),
		slog.Duration("latency", latency),
	)
}
