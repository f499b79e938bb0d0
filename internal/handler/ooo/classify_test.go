package ooo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name          string
		stdout        string
		stderr        string
		outcome       Outcome
		diagnostic    string
		unconvertible bool
	}{
		{name: "stdout wins", stdout: "/tmp/out.pdf", stderr: "warning: NoConnectException", outcome: Succeeded},
		{name: "empty", outcome: FatalFault, diagnostic: "unexpected empty result"},
		{name: "whitespace only", stdout: " \n", stderr: "\n", outcome: FatalFault, diagnostic: "unexpected empty result"},
		{name: "no connect", stderr: "com.sun.star.connection.NoConnectException: refused", outcome: RecoverableFault, diagnostic: "com.sun.star.connection.NoConnectException: refused"},
		{name: "runtime", stderr: "RuntimeException", outcome: RecoverableFault, diagnostic: "RuntimeException"},
		{name: "disposed", stderr: "DisposedException", outcome: RecoverableFault, diagnostic: "DisposedException"},
		{name: "io error", stderr: "ErrorCodeIOException: 283", outcome: FatalFault, diagnostic: unconvertibleMessage, unconvertible: true},
		{name: "other", stderr: "Traceback: KeyError 'x'", outcome: FatalFault, diagnostic: "Traceback: KeyError 'x'"},
		{name: "status recoverable", stderr: "noise\ndocbroker-status: connection-lost\n", outcome: RecoverableFault, diagnostic: "noise\ndocbroker-status: connection-lost"},
		{name: "status unconvertible", stderr: "docbroker-status: unconvertible", outcome: FatalFault, diagnostic: unconvertibleMessage, unconvertible: true},
		{name: "status wins over markers", stderr: "RuntimeException\ndocbroker-status: unconvertible", outcome: FatalFault, diagnostic: unconvertibleMessage, unconvertible: true},
		{name: "unknown status falls back", stderr: "docbroker-status: weird\nDisposedException", outcome: RecoverableFault, diagnostic: "docbroker-status: weird\nDisposedException"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify([]byte(c.stdout), []byte(c.stderr))
			assert.Equal(t, c.outcome, got.Outcome)
			assert.Equal(t, c.diagnostic, got.Diagnostic)
			assert.Equal(t, c.unconvertible, got.Unconvertible)
		})
	}
}
