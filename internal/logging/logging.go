// Package logging monta o *zap.Logger do processo.
package logging

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SecurityLogger é o nome (zap.Logger.Named) dos loggers de eventos de
// segurança. Entradas deles nunca são amostradas.
const SecurityLogger = "security"

// New cria o logger conforme ambiente, nível e formato.
// environment "production" usa JSON amostrado, exceto para SecurityLogger;
// o resto usa console colorido.
func New(environment, level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	var opts []zap.Option

	if environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableStacktrace = true
		cfg.Sampling = nil
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return SampleExceptSecurity(core, 100, 100)
		}))
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	switch strings.ToLower(format) {
	case "json":
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	case "console":
		cfg.Encoding = "console"
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build(append(opts, zap.AddCaller())...)
}

// SampleExceptSecurity amostra core por segundo (first, depois 1 a cada
// thereafter) e deixa passar tudo que vem de um logger SecurityLogger.
func SampleExceptSecurity(core zapcore.Core, first, thereafter int) zapcore.Core {
	return &securityCore{
		Core: zapcore.NewSamplerWithOptions(core, time.Second, first, thereafter),
		raw:  core,
	}
}

type securityCore struct {
	zapcore.Core
	raw zapcore.Core
}

func (c *securityCore) With(fields []zapcore.Field) zapcore.Core {
	return &securityCore{Core: c.Core.With(fields), raw: c.raw.With(fields)}
}

func (c *securityCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.LoggerName == SecurityLogger || strings.HasSuffix(ent.LoggerName, "."+SecurityLogger) {
		return c.raw.Check(ent, ce)
	}
	return c.Core.Check(ent, ce)
}

// ParseLevel aceita debug/info/warn/error; qualquer outro valor vira info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}
