package logsvc

import (
	"io"
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
)

// RollbarLogger prints to std and reports to Rollbar when a token is configured.
type RollbarLogger struct {
	std   *log.Logger
	debug bool
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.TestMode)
	return &RollbarLogger{std: std, debug: conf.Debug}
}

// NewTestLogger returns a RollbarLogger that neither prints nor reports.
func NewTestLogger() *RollbarLogger {
	rollbar.SetEnabled(false)
	return &RollbarLogger{std: log.New(io.Discard, "", 0)}
}

func (l *RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Close waits for queued reports to be sent.
func (l *RollbarLogger) Close() {
	rollbar.Close()
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l *RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		// set the acting User
		if usr, ok := arg.(user.User); ok {
			if !usrSet { // only set one User
				rollbar.SetPerson(usr.ID, usr.FullName(), usr.Email)
				usrSet = true
			}
		} else {
			newArgs = append(newArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs
}

func (l *RollbarLogger) print(level, msg string, args []interface{}) {
	l.std.Printf("[%s] %s", level, msg)
	for _, arg := range args {
		if usr, ok := arg.(user.User); ok {
			l.std.Printf("user: %s (%s)", usr.NationalID, usr.ID)
			continue
		}
		l.std.Printf("%+v", arg)
	}
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	if !l.debug {
		return
	}
	rollbar.Debug(l.prepare(msg, args)...)
	l.print("DEBUG", msg, args)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.print("INFO", msg, args)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print("WARN", msg, args)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print("ERROR", msg, args)
}

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	l.print("FATAL", msg, args)
	rollbar.Close()
	l.std.Fatal(msg)
}
