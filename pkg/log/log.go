package log

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/gdbrns/go-whatsapp-sender/pkg/env"
)

var logger = logrus.New()

func init() {
	logger.Formatter = &logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
		DisableColors:   false,
		ForceColors:     true,
	}

	level, err := logrus.ParseLevel(env.GetEnvStringOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// Logger exposes the shared logrus instance, mainly so tests can swap its output.
func Logger() *logrus.Logger {
	return logger
}

func Print(c *fiber.Ctx) *logrus.Entry {
	if c == nil {
		return logger.WithFields(logrus.Fields{})
	}

	remoteIP := c.IP()
	if v := c.Locals("remote_ip"); v != nil {
		if ip, ok := v.(string); ok && ip != "" {
			remoteIP = ip
		}
	}
	fields := logrus.Fields{
		"remote_ip": remoteIP,
		"method":    c.Method(),
		"uri":       c.OriginalURL(),
	}
	if v, ok := c.Locals("request_id").(string); ok && v != "" {
		fields["request_id"] = v
	}
	return logger.WithFields(fields)
}

// Session returns an entry tagged with the session lifecycle state.
func Session(state string) *logrus.Entry {
	return logger.WithField("component", "session").WithField("state", state)
}

// MessageOp returns an entry for an outbound message operation.
func MessageOp(op string, recipient string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "messaging",
		"op":        op,
		"recipient": MaskRecipient(recipient),
	})
}

// SysErr logs an internal error that has no request attached.
func SysErr(scope string, err error) {
	if err == nil {
		return
	}
	logger.WithField("scope", scope).WithError(err).Error("internal error")
}

// MaskRecipient hides the last four digits of a phone number or JID user part.
func MaskRecipient(recipient string) string {
	user, server, hasServer := strings.Cut(recipient, "@")
	if runes := []rune(user); len(runes) >= 4 {
		user = string(runes[:len(runes)-4]) + "xxxx"
	}
	if hasServer {
		return user + "@" + server
	}
	return user
}

// Webhook returns an entry for a webhook delivery.
func Webhook(event string, target string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "webhook",
		"event":     event,
		"target":    target,
	})
}
