package util

import (
	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a production logger, or a development one when dev is set.
// Errors are also reported to Sentry when a DSN is given.
func NewLogger(dev bool, sentryDSN string) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error
	if dev {
		loggerConfig := zap.NewDevelopmentConfig()
		loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err = loggerConfig.Build()
	} else {
		loggerConfig := zap.NewProductionConfig()
		loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		logger, err = loggerConfig.Build()
	}
	if err != nil {
		return nil, err
	}
	if sentryDSN == "" {
		return logger, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{Dsn: sentryDSN})
	if err != nil {
		return nil, err
	}
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(client))
	if err != nil {
		return nil, err
	}
	return zapsentry.AttachCoreToLogger(core, logger), nil
}
