package logger

import (
	"time"

	"go.uber.org/zap"
)

// Typed field constructors so call sites agree on key names.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Auth domain fields.

func Provider(v string) zap.Field { return zap.String("provider", v) }
func UserID(v string) zap.Field   { return zap.String("user_id", v) }
func LinkID(v string) zap.Field   { return zap.String("link_id", v) }
func Email(v string) zap.Field    { return zap.String("email_masked", MaskEmail(v)) }

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }

func Err(err error) zap.Field                { return zap.Error(err) }
func Any(k string, v any) zap.Field          { return zap.Any(k, v) }
func String(k, v string) zap.Field           { return zap.String(k, v) }
func Strings(k string, v []string) zap.Field { return zap.Strings(k, v) }

// MaskEmail keeps the first two characters and the domain. Emails are PII;
// logs only ever see the masked form.
func MaskEmail(email string) string {
	if len(email) < 3 {
		return "***"
	}
	at := -1
	for i, c := range email {
		if c == '@' {
			at = i
			break
		}
	}
	if at < 2 {
		return email[:2] + "***"
	}
	return email[:2] + "***" + email[at:]
}
