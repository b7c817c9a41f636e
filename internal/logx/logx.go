package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process root logger. Components get a copy by value.
func New(service, level string) zerolog.Logger {
	return newWith(os.Stdout, service, level)
}

func newWith(w io.Writer, service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", service).Logger()
}
