package logging

import (
	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"classcast/pkg/types"
)

// RollbarConfig holds the error tracker settings
type RollbarConfig struct {
	Token       string
	Environment string
	ServerHost  string
	CodeVersion string
}

// RollbarLogger reports warnings and errors to Rollbar and mirrors every line to a StdLogger
type RollbarLogger struct {
	std *StdLogger
}

var _ Logger = (*RollbarLogger)(nil)

// NewRollbarLogger configures the rollbar client
func NewRollbarLogger(std *StdLogger, conf RollbarConfig) *RollbarLogger {
	rollbar.SetToken(conf.Token)
	rollbar.SetEnvironment(conf.Environment)
	rollbar.SetServerHost(conf.ServerHost)
	rollbar.SetCodeVersion(conf.CodeVersion)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

// Enable toggles reporting without touching local output
func (l *RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Flush blocks until queued reports are sent
func (l *RollbarLogger) Flush() {
	rollbar.Wait()
}

// expected args: error, map[string]interface{}, types.Actor
func (l *RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var actorSet bool
	out := make([]interface{}, 0, len(args)+1)
	out = append(out, msg)
	for _, arg := range args {
		if actor, ok := arg.(types.Actor); ok {
			if !actorSet {
				rollbar.SetPerson(actor.ID, actor.Name, "")
				actorSet = true
			}
			continue
		}
		out = append(out, arg)
	}
	if !actorSet {
		rollbar.ClearPerson()
	}
	return out
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	l.std.Debug(msg, args...)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	l.std.Info(msg, args...)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.std.Warn(msg, args...)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.std.Error(msg, args...)
}
