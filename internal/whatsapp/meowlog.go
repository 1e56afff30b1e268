package whatsapp

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

type meowLogger struct {
	sugar *zap.SugaredLogger
}

// NewMeowLogger adapts zap to whatsmeow's logger interface.
func NewMeowLogger(log *zap.Logger) waLog.Logger {
	return meowLogger{sugar: log.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l meowLogger) Errorf(msg string, args ...interface{}) { l.sugar.Errorf(msg, args...) }
func (l meowLogger) Warnf(msg string, args ...interface{})  { l.sugar.Warnf(msg, args...) }
func (l meowLogger) Infof(msg string, args ...interface{})  { l.sugar.Infof(msg, args...) }
func (l meowLogger) Debugf(msg string, args ...interface{}) { l.sugar.Debugf(msg, args...) }

func (l meowLogger) Sub(module string) waLog.Logger {
	return meowLogger{sugar: l.sugar.Named(module)}
}
