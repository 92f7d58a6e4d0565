package idxmap

import (
	"context"
	"log/slog"
)

// Options configure logging and metrics of tables. The zero value logs
// nothing below Warn to slog.Default() and collects no metrics.
type Options struct {
	Logger  *slog.Logger
	Verbose bool
	Metrics *Metrics
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Options) logOp(op string, ns string, pk []byte, attrs ...slog.Attr) {
	if !o.Verbose {
		return
	}
	attrs = append([]slog.Attr{slog.String("ns", ns), hexAttr("pk", pk)}, attrs...)
	o.logger().LogAttrs(context.Background(), slog.LevelDebug, "idxmap: "+op, attrs...)
}

func (o *Options) warn(msg string, attrs ...slog.Attr) {
	o.logger().LogAttrs(context.Background(), slog.LevelWarn, "idxmap: "+msg, attrs...)
}
