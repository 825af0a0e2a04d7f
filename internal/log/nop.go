package log

import "context"

type nopLogger struct{}

// Nop returns a Logger that discards everything. Useful as a default
// in options structs and in tests that don't assert on logs.
func Nop() Logger { return nopLogger{} }

func (nopLogger) With(...any) Logger                           { return nopLogger{} }
func (nopLogger) Debug(context.Context, string, ...any)        {}
func (nopLogger) Info(context.Context, string, ...any)         {}
func (nopLogger) Warn(context.Context, string, ...any)         {}
func (nopLogger) Error(context.Context, error, string, ...any) {}
func (nopLogger) Sync() error                                  { return nil }
