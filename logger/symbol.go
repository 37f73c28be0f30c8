package logger

import (
	"github.com/teranos/jobpulse/sym"
	"go.uber.org/zap"
)

// Symbol-aware logging helpers.
// The symbol is logged as a structured field, not in the message, so logs
// stay queryable by subsystem.

// PulseInfow logs an info message with the Pulse symbol (꩜)
func PulseInfow(msg string, keysAndValues ...interface{}) {
	SymbolInfow(sym.Pulse, msg, keysAndValues...)
}

// PulseOpenInfow logs an info message with the PulseOpen symbol (✿)
func PulseOpenInfow(msg string, keysAndValues ...interface{}) {
	SymbolInfow(sym.PulseOpen, msg, keysAndValues...)
}

// PulseCloseInfow logs an info message with the PulseClose symbol (❀)
func PulseCloseInfow(msg string, keysAndValues ...interface{}) {
	SymbolInfow(sym.PulseClose, msg, keysAndValues...)
}

// SymbolInfow logs with any symbol
func SymbolInfow(symbol, msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, symbol}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// Instance logger wrappers. These wrap an injected logger (d.logger, s.logger)
// rather than the global one.
//
//	d.pulseLog = logger.AddPulseSymbol(baseLogger)

// AddPulseSymbol wraps a logger with the Pulse symbol (꩜)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Pulse)
}

// AddPulseOpenSymbol wraps a logger with the PulseOpen symbol (✿)
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.PulseOpen)
}

// AddPulseCloseSymbol wraps a logger with the PulseClose symbol (❀)
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.PulseClose)
}

// AddDBSymbol wraps a logger with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.DB)
}

// AddNotifySymbol wraps a logger with the Notify symbol (✉)
func AddNotifySymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Notify)
}

// AddWorkflowSymbol wraps a logger with the Workflow symbol (⟶)
func AddWorkflowSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Workflow)
}

// AddRollbackSymbol wraps a logger with the Rollback symbol (⟲)
func AddRollbackSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Rollback)
}
