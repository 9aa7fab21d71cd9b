package slogx

import (
	"log/slog"
)

const (
	// KeyLoggerName is the key for the logger name.
	KeyLoggerName = "logger"
	// KeyNodeID is the key for the node identity of a store.
	KeyNodeID = "node_id"
	// KeyEvent is the key for an event name.
	KeyEvent = "event"
)

// Error returns a slog.Attr with the key "error" and the error's message as value.
// A nil error renders as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// LoggerName returns an attribute naming the logger.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// NodeID returns an attribute carrying a node identity.
func NodeID(id string) slog.Attr {
	return slog.String(KeyNodeID, id)
}

// Event returns an attribute carrying an event name.
func Event(name string) slog.Attr {
	return slog.String(KeyEvent, name)
}

// ByteString renders a byte slice as a string attribute.
func ByteString(key string, value []byte) slog.Attr {
	return slog.String(key, string(value))
}
