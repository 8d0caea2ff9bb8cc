// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/jllopis/hive/pkg/errors"
)

// CLIError wraps a HiveError with a hint for the operator.
type CLIError struct {
	*errors.HiveError
	Hint string
}

func (e *CLIError) Error() string {
	msg := e.HiveError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error { return e.HiveError }

func withHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return &CLIError{HiveError: errors.AsHiveError(err), Hint: hint}
}

// hintFor suggests a fix for the common failure classes.
func hintFor(code errors.ErrorCode, configPath string) string {
	switch code {
	case errors.CodeConfig:
		if configPath != "" {
			return fmt.Sprintf("check %s and the HIVE_ environment overrides", configPath)
		}
		return "pass --config or set HIVE_ environment overrides"
	case errors.CodeTransport:
		return "check that the tool server is running and reachable"
	case errors.CodeLLMError:
		return "check llm.base_url and that the model is pulled"
	case errors.CodeUnauthorized:
		return "pass a credential for the server or set requires_auth: false"
	case errors.CodeTimeout:
		return "raise protocol.call_timeout or check server health"
	default:
		return ""
	}
}

func printError(err error, asJSON bool) {
	var cliErr *CLIError
	if !stderrors.As(err, &cliErr) {
		cliErr = &CLIError{HiveError: errors.AsHiveError(err)}
	}
	he := cliErr.HiveError

	if asJSON {
		payload := map[string]any{"code": he.Code, "message": he.Error()}
		if cliErr.Hint != "" {
			payload["hint"] = cliErr.Hint
		}
		data, _ := json.Marshal(map[string]any{"error": payload})
		fmt.Fprintln(os.Stderr, string(data))
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %s\n", he.Error())
	if cliErr.Hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", cliErr.Hint)
	}
}
