package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/trellis-mcp/trellis/internal/audit"
	"github.com/trellis-mcp/trellis/internal/claimengine"
	"github.com/trellis-mcp/trellis/internal/completion"
	"github.com/trellis-mcp/trellis/internal/config"
	"github.com/trellis-mcp/trellis/internal/resolver"
	"github.com/trellis-mcp/trellis/internal/rpc"
	"github.com/trellis-mcp/trellis/internal/scanner"
	"github.com/trellis-mcp/trellis/internal/validate"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Host the RPC surface over stdin/stdout line-JSON",
		Long:  "Read one request envelope per line from stdin, dispatch it to the named operation, and write one response envelope per line to stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadConfigWithFile(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	res := resolver.New(cfg.Server.ForcePlanningSubdir)
	sc := scanner.New(res, logger)
	val := validate.New(res)

	root := cfg.Server.ProjectRoot
	if root == "" {
		root = workDir
	} else if !filepath.IsAbs(root) {
		root = filepath.Join(workDir, root)
	}

	auditPath := audit.PathForRoot(root, cfg.Audit.Path)
	sink := audit.New(auditPath, logger)

	claims := claimengine.New(sc, res, sink, logger)
	completer := completion.New(res, logger, time.Now)

	srv := rpc.New(res, sc, val, claims, completer, logger, time.Now)

	logger.Info("trellis serve starting", "projectRoot", root, "auditPath", auditPath)
	return serveLoop(cmd.InOrStdin(), cmd.OutOrStdout(), logger, srv, root)
}

func serveLoop(in io.Reader, out io.Writer, logger *slog.Logger, srv *rpc.Server, defaultRoot string) error {
	scanr := bufio.NewScanner(in)
	scanr.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	enc := json.NewEncoder(out)

	for scanr.Scan() {
		line := scanr.Bytes()
		if len(line) == 0 {
			continue
		}

		var env requestEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			logger.Warn("malformed request envelope", "error", err)
			if encErr := enc.Encode(errorResponse("", "malformed request envelope")); encErr != nil {
				return encErr
			}
			continue
		}

		resp := dispatch(srv, defaultRoot, env)
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanr.Err()
}

// requestEnvelope is one line of the stdio protocol: an operation name and
// its JSON-encoded payload.
type requestEnvelope struct {
	ID      string          `json:"id"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// responseEnvelope mirrors the request by ID and carries either a result
// or an error, never both. Error is always the sanitized §4.10 shape —
// never a raw Go error string — so a filesystem error can't leak an
// absolute path or other sensitive detail across the RPC boundary.
type responseEnvelope struct {
	ID     string        `json:"id"`
	Result any           `json:"result,omitempty"`
	Error  *errorPayload `json:"error,omitempty"`
}

type errorPayload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

// errorResponse builds a response from a plain protocol-level failure
// (malformed envelope, unknown op) that never touched application code,
// so it carries no errtax code of its own.
func errorResponse(id, msg string) responseEnvelope {
	return responseEnvelope{ID: id, Error: &errorPayload{Code: "ProtocolError", Message: msg}}
}
