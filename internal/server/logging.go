package server

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
)

// levelOff disables logging entirely.
const levelOff = "off"

func parseLevel(level string) (string, error) {
	switch l := strings.ToLower(level); l {
	case "", "none", levelOff:
		return levelOff, nil
	case "trace", "debug", "info", "warn", "error":
		return l, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want trace, debug, info, warn, error or off)", level)
	}
}

// SetupLogging points the process logger at the configured level and
// destination. The returned closer releases the log file, if any.
func SetupLogging(level, file string) (io.Closer, error) {
	l, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	if l == levelOff {
		log.SetOutput(io.Discard)
		return nopCloser{}, nil
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if file != "" {
		logFile, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = logFile
		closer = logFile
	}
	log.SetOutput(out)

	switch l {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	}

	// go-nfs logs on its own logger; follow the process level
	if log.IsLevelEnabled(log.TraceLevel) {
		nfs.Log.SetLevel(nfs.TraceLevel)
	} else if log.IsLevelEnabled(log.DebugLevel) {
		nfs.Log.SetLevel(nfs.DebugLevel)
	}
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
