package log

import "context"

// nop discards everything, used in tests and as the context fallback
type nop struct{}

func (n nop) With(...any) Logger                         { return n }
func (nop) Debug(context.Context, string, ...any)        {}
func (nop) Info(context.Context, string, ...any)         {}
func (nop) Warn(context.Context, string, ...any)         {}
func (nop) Error(context.Context, error, string, ...any) {}
func (nop) Sync() error                                  { return nil }

// Nop returns a Logger that drops every record.
func Nop() Logger { return nop{} }
