package logger

import "flock/internal/model"

// Field rappresenta un campo strutturato (key:value).
type Field struct {
	Key string
	Val any
}

// Logger è l'interfaccia minima richiesta dal resto del pacchetto.
type Logger interface {
	Named(name string) Logger
	With(fields ...Field) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// F è un helper per creare un Field in modo conciso.
func F(key string, val any) Field { return Field{Key: key, Val: val} }

// FEndpoint serializza un model.Endpoint in un campo strutturato leggibile.
func FEndpoint(key string, e model.Endpoint) Field {
	return Field{Key: key, Val: e.String()}
}

// ----------------------------------------------------------------
// NopLogger è un'implementazione di Logger che non fa nulla.
type NopLogger struct{}

func (l *NopLogger) Named(name string) Logger          { return l }
func (l *NopLogger) With(fields ...Field) Logger       { return l }
func (l *NopLogger) Debug(msg string, fields ...Field) {}
func (l *NopLogger) Info(msg string, fields ...Field)  {}
func (l *NopLogger) Warn(msg string, fields ...Field)  {}
func (l *NopLogger) Error(msg string, fields ...Field) {}
