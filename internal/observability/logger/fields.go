package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP fields.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field { return zap.String("method", v) }
func Path(v string) zap.Field { return zap.String("path", v) }
func Status(v int) zap.Field { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

// Domain fields.

func Subject(v string) zap.Field { return zap.String("subject", v) }
func SessionID(v string) zap.Field { return zap.String("session_id", v) }
func RelyingApp(v string) zap.Field { return zap.String("relying_app", v) }
func Channel(v string) zap.Field { return zap.String("channel", v) }
func Scopes(v []string) zap.Field { return zap.Strings("scopes", v) }
func Verb(v string) zap.Field { return zap.String("verb", v) }

// System fields.

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field { return zap.String("op", v) }
func Err(err error) zap.Field { return zap.Error(err) }
func Count(v int) zap.Field { return zap.Int("count", v) }
func Any(key string, v any) zap.Field { return zap.Any(key, v) }
func String(key, v string) zap.Field { return zap.String(key, v) }
