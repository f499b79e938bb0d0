package ooo

import (
	"bytes"
	"strings"
)

// Outcome is the result of one helper invocation.
type Outcome int

const (
	Succeeded Outcome = iota
	RecoverableFault
	FatalFault
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case RecoverableFault:
		return "recoverable"
	default:
		return "fatal"
	}
}

// Classification is what Classify decided about an invocation.
type Classification struct {
	Outcome    Outcome
	Diagnostic string
	// Unconvertible marks a document the office suite refused to write in
	// the requested format.
	Unconvertible bool
}

// statusPrefix starts the structured status line the helper writes to
// stderr when it can name the failure itself.
const statusPrefix = "docbroker-status:"

// Status codes of the structured status line.
const (
	StatusConnectionLost = "connection-lost"
	StatusDisposed       = "disposed"
	StatusUnconvertible  = "unconvertible"
)

const unconvertibleMessage = "this document can not be converted to this format"

var recoverableMarkers = []string{"NoConnectException", "RuntimeException", "DisposedException"}

// Classify decides the outcome from the helper's two output streams.
// stdout is the result channel: anything on it is a success.
func Classify(stdout, stderr []byte) Classification {
	if len(bytes.TrimSpace(stdout)) > 0 {
		return Classification{Outcome: Succeeded}
	}
	diag := strings.TrimSpace(string(stderr))
	if diag == "" {
		return Classification{Outcome: FatalFault, Diagnostic: "unexpected empty result"}
	}

	if code, ok := statusCode(diag); ok {
		switch code {
		case StatusConnectionLost, StatusDisposed:
			return Classification{Outcome: RecoverableFault, Diagnostic: diag}
		case StatusUnconvertible:
			return Classification{Outcome: FatalFault, Diagnostic: unconvertibleMessage, Unconvertible: true}
		}
	}

	if strings.Contains(diag, "ErrorCodeIOException") {
		return Classification{Outcome: FatalFault, Diagnostic: unconvertibleMessage, Unconvertible: true}
	}
	for _, m := range recoverableMarkers {
		if strings.Contains(diag, m) {
			return Classification{Outcome: RecoverableFault, Diagnostic: diag}
		}
	}
	return Classification{Outcome: FatalFault, Diagnostic: diag}
}

// statusCode finds the last structured status line in stderr.
func statusCode(stderr string) (string, bool) {
	var code string
	found := false
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, statusPrefix); ok {
			code, found = strings.TrimSpace(rest), true
		}
	}
	return code, found
}
