package common

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

const (
	gray   = 37
	yellow = 33
	red    = 31
)

// NewFormatter returns the log formatter used for action output. Warning and
// error lines carry a distinct prefix so they stand out in the job log, and
// any value in masks (tokens, credentials) is replaced before the line is
// written.
func NewFormatter(masks *[]string) logrus.Formatter {
	return &actionLogFormatter{
		masker: valueMasker(masks),
	}
}

type entryProcessor func(entry *logrus.Entry) *logrus.Entry

func valueMasker(masks *[]string) entryProcessor {
	return func(entry *logrus.Entry) *logrus.Entry {
		for _, v := range *masks {
			if v != "" {
				entry.Message = strings.ReplaceAll(entry.Message, v, "***")
			}
		}
		return entry
	}
}

type actionLogFormatter struct {
	masker entryProcessor
}

func (f *actionLogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}

	entry = f.masker(entry)
	message := strings.TrimSuffix(entry.Message, "\n")

	if CheckIfColorable(entry.Logger.Out) {
		switch {
		case entry.Level <= logrus.ErrorLevel:
			_, _ = fmt.Fprintf(b, "\x1b[%dm[error]\x1b[0m %s", red, message)
		case entry.Level == logrus.WarnLevel:
			_, _ = fmt.Fprintf(b, "\x1b[%dm[warning]\x1b[0m %s", yellow, message)
		case entry.Level == logrus.DebugLevel:
			_, _ = fmt.Fprintf(b, "\x1b[%dm[debug] %s\x1b[0m", gray, message)
		default:
			b.WriteString(message)
		}
	} else {
		switch {
		case entry.Level <= logrus.ErrorLevel:
			_, _ = fmt.Fprintf(b, "[error] %s", message)
		case entry.Level == logrus.WarnLevel:
			_, _ = fmt.Fprintf(b, "[warning] %s", message)
		case entry.Level == logrus.DebugLevel:
			_, _ = fmt.Fprintf(b, "[debug] %s", message)
		default:
			b.WriteString(message)
		}
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func CheckIfColorable(w io.Writer) bool {
	if !CheckIfTerminal(w) {
		return false
	}

	// https://no-color.org/
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}

	// https://bixense.com/clicolors/
	if f, ok := os.LookupEnv("CLICOLOR_FORCE"); ok && f != "0" {
		return true
	}

	if c, ok := os.LookupEnv("CLICOLOR"); ok {
		if c == "0" {
			return false
		}
		return true
	}

	if t, ok := os.LookupEnv("TERM"); ok {
		switch t {
		// safeguard against weird terminals
		case "dumb", "unknown", "linux":
			return false
		}
	}

	return true
}

func CheckIfTerminal(w io.Writer) bool {
	switch v := w.(type) {
	case *os.File:
		return isatty.IsTerminal(v.Fd()) || isatty.IsCygwinTerminal(v.Fd())
	default:
		return false
	}
}
