package util

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// PionLoggerFactory routes pion's internal logging (ICE, DTLS, SCTP, ...)
// through the pterm logger. pion's Info level is very chatty, so it is
// demoted to Debug.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{scope: "pion/" + scope}
}

type pionLogger struct {
	scope string
}

func (p *pionLogger) args() []pterm.LoggerArgument {
	return pterm.DefaultLogger.Args("scope", p.scope)
}

func (p *pionLogger) Trace(msg string) { pterm.DefaultLogger.Trace(msg, p.args()) }
func (p *pionLogger) Tracef(format string, args ...interface{}) {
	p.Trace(fmt.Sprintf(format, args...))
}

func (p *pionLogger) Debug(msg string) { pterm.DefaultLogger.Debug(msg, p.args()) }
func (p *pionLogger) Debugf(format string, args ...interface{}) {
	p.Debug(fmt.Sprintf(format, args...))
}

func (p *pionLogger) Info(msg string) { pterm.DefaultLogger.Debug(msg, p.args()) }
func (p *pionLogger) Infof(format string, args ...interface{}) {
	p.Info(fmt.Sprintf(format, args...))
}

func (p *pionLogger) Warn(msg string) { pterm.DefaultLogger.Warn(msg, p.args()) }
func (p *pionLogger) Warnf(format string, args ...interface{}) {
	p.Warn(fmt.Sprintf(format, args...))
}

func (p *pionLogger) Error(msg string) { pterm.DefaultLogger.Error(msg, p.args()) }
func (p *pionLogger) Errorf(format string, args ...interface{}) {
	p.Error(fmt.Sprintf(format, args...))
}
