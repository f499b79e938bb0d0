// Package ooo is the primary backend: documents are converted by a UNO
// helper process talking to the supervised office process.
package ooo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docbroker/internal/document"
	"github.com/local/docbroker/internal/handler"
	"github.com/local/docbroker/internal/metrics"
	"github.com/local/docbroker/internal/office"
	"github.com/local/docbroker/internal/procexec"
)

// Helper features.
const (
	FeatureConvert     = "convert"
	FeatureGetMetadata = "getmetadata"
	FeatureSetMetadata = "setmetadata"
)

// maxAttempts bounds helper invocations per call: the first try plus one
// retry after a session restart.
const maxAttempts = 2

// Bridge invokes the UNO helper against the shared office session.
type Bridge struct {
	Session          office.Session
	Runner           procexec.Runner
	Python           string
	Helper           string
	UnoPath          string
	OfficeBinaryPath string
	// Timeout bounds each helper invocation. Zero disables the monitor.
	Timeout time.Duration
}

// Call runs the helper for doc with exclusive use of the session. A
// recoverable fault restores the original document, restarts the session
// and retries once. Recoverable faults never escape Call.
func (b *Bridge) Call(ctx context.Context, doc *document.Document, src, dst string, features []string, params map[string]string) ([]byte, error) {
	argsTail, err := paramArgs(params)
	if err != nil {
		return nil, handler.InputError(src, dst, err.Error())
	}

	b.Session.Acquire()
	defer b.Session.Release()

	var last *handler.Error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !b.Session.Status() {
			metrics.IncSessionRestart("start")
			if err := b.Session.EnsureRunning(ctx); err != nil {
				return nil, handler.FatalBackendError(src, dst, "office process unavailable", err)
			}
		}

		cmd := b.command(doc, features, argsTail)
		var res procexec.Result
		expired, runErr := office.WithTimeout(ctx, b.Session, b.Timeout, func(ctx context.Context) error {
			var err error
			res, err = b.Runner.Run(ctx, cmd)
			return err
		})
		if expired {
			return nil, handler.FatalBackendError(src, dst, fmt.Sprintf("timed out after %s", b.Timeout), nil)
		}
		if runErr != nil {
			return nil, handler.FatalBackendError(src, dst, "helper invocation failed", runErr)
		}
		if len(res.Stderr) > 0 {
			log.Debug().Str("stderr", string(res.Stderr)).Int("attempt", attempt).Msg("helper stderr")
		}

		c := Classify(res.Stdout, res.Stderr)
		switch c.Outcome {
		case Succeeded:
			return res.Stdout, nil
		case FatalFault:
			return nil, handler.FatalBackendError(src, dst, c.Diagnostic, nil)
		}

		last = handler.RecoverableBackendError(src, dst, c.Diagnostic)
		if attempt == maxAttempts {
			break
		}
		log.Warn().Str("src", src).Str("dst", dst).Str("diagnostic", firstLine(c.Diagnostic)).Msg("office connection lost, restarting session and retrying")
		metrics.IncRetry()
		if err := doc.RestoreOriginal(); err != nil {
			return nil, handler.FatalBackendError(src, dst, "restore document before retry", err)
		}
		metrics.IncSessionRestart("recoverable")
		if err := b.Session.Restart(ctx); err != nil {
			return nil, handler.FatalBackendError(src, dst, "restart office process", err)
		}
	}
	return nil, handler.FatalBackendError(src, dst, "retry exhausted", last)
}

// command builds the helper argv. The session address is read per attempt
// so a retry sees the restarted process.
func (b *Bridge) command(doc *document.Document, features []string, tail []string) procexec.Command {
	host, port := b.Session.Address()
	args := []string{
		b.Helper,
		"--uno_path=" + b.UnoPath,
		"--office_binary_path=" + b.OfficeBinaryPath,
		"--hostname=" + host,
		"--port=" + strconv.Itoa(port),
		"--document_url=" + doc.URL(),
	}
	for _, f := range features {
		args = append(args, "--"+f)
	}
	args = append(args, tail...)
	return procexec.Command{Path: b.Python, Args: args}
}

// paramArgs renders params as --key=value in key order. Each pair is its own
// argv slot, so values need no quoting; NUL cannot be passed to exec.
func paramArgs(params map[string]string) ([]string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || strings.ContainsAny(k, "=\x00") || strings.HasPrefix(k, "-") {
			return nil, fmt.Errorf("invalid parameter name %q", k)
		}
		v := params[k]
		if strings.ContainsRune(v, 0) {
			return nil, fmt.Errorf("parameter %s contains a NUL byte", k)
		}
		out = append(out, "--"+k+"="+v)
	}
	return out, nil
}

// encodeJSON serializes a structured parameter value for the helper.
func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64Encode(data), nil
}

func base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// decodeJSON reverses the helper's base64(JSON) stdout.
func decodeJSON(stdout []byte, v any) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(stdout)))
	if err != nil {
		return fmt.Errorf("decode helper output: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse helper output: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

const unreadableOutput = "converter output is not readable"
