package mcpadmin

import (
	"log/slog"
	"time"
)

// Options configure an admin Server instance.
type Options struct {
	// Addr controls the listen address used by ListenAndServe. Defaults to
	// ":8800".
	Addr string
	// HistorySize bounds the tool execution history ring. Defaults to 100.
	HistorySize int
	// AllowedOrigins is handed to the CORS layer. Defaults to ["*"], which
	// suits a local dashboard; production deployments should pin it down.
	AllowedOrigins []string
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// ShutdownTimeout bounds the graceful drain when the serve context is
	// cancelled. Defaults to 10s.
	ShutdownTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Addr == "" {
		opts.Addr = ":8800"
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 100
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return opts
}
