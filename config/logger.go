package config

import (
	"fmt"
	"io"
	"log/slog"

	charmlog "github.com/charmbracelet/log"
	"github.com/rs/zerolog"
	"github.com/shaharia-lab/mcpbridge/observability"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the logger selected by Format, writing to w.
func (c LoggingConfig) NewLogger(w io.Writer) (observability.Logger, error) {
	switch c.Format {
	case "", "logrus":
		level, err := logrus.ParseLevel(c.Level)
		if err != nil {
			return nil, err
		}
		l := logrus.New()
		l.SetOutput(w)
		l.SetLevel(level)
		return observability.NewLogrusLogger(l), nil

	case "zap":
		level, err := zapcore.ParseLevel(c.Level)
		if err != nil {
			return nil, err
		}
		core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(w), level)
		return observability.NewZapLogger(zap.New(core)), nil

	case "slog":
		var level slog.Level
		if err := level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, err
		}
		return observability.NewSlogLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))), nil

	case "zerolog":
		level, err := zerolog.ParseLevel(c.Level)
		if err != nil {
			return nil, err
		}
		l := zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).Level(level).With().Timestamp().Logger()
		return observability.NewZerologLogger(l), nil

	case "charm":
		level, err := charmlog.ParseLevel(c.Level)
		if err != nil {
			return nil, err
		}
		return observability.NewCharmLogger(charmlog.NewWithOptions(w, charmlog.Options{
			Level:           level,
			ReportTimestamp: true,
		})), nil
	}
	return nil, fmt.Errorf("unknown log format %q", c.Format)
}
