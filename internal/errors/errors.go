// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors provides the user-facing error type of the repomine CLI.
//
// Library packages return plain wrapped errors. At the command boundary they
// are converted into a UserError, which carries three levels of information
// and a semantic exit code:
//
//	return errors.NewWarehouseError(
//	    "Cannot open warehouse",
//	    "The sqlite file is locked by another process",
//	    "Wait for the other repomine run to finish",
//	    err,
//	)
//
// Format renders the error for a terminal:
//
//	Error: Cannot open warehouse
//	Cause: The sqlite file is locked by another process
//	Fix:   Wait for the other repomine run to finish
//
// ToJSON renders it for --json output.
//
// # Exit Codes
//
//   - ExitSuccess (0): Successful execution
//   - ExitConfig (1): Missing or invalid configuration
//   - ExitWarehouse (2): Warehouse errors (open, create, write, query)
//   - ExitNetwork (3): Remote API or object storage errors
//   - ExitInput (4): Invalid arguments
//   - ExitPermission (5): Permission denied
//   - ExitNotFound (6): Missing repository, table or object
//   - ExitData (7): Upstream data broke a contract (unsorted input, bad tool output)
//   - ExitInternal (10): Bugs
//   - ExitInterrupted (130): Canceled by SIGINT or SIGTERM; rerun to resume
package errors

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Exit codes for different error categories.
const (
	ExitSuccess    = 0
	ExitConfig     = 1
	ExitWarehouse  = 2
	ExitNetwork    = 3
	ExitInput      = 4
	ExitPermission = 5
	ExitNotFound   = 6
	ExitData       = 7

	// ExitInternal signals "this is a bug that should be reported".
	ExitInternal = 10

	ExitInterrupted = 130
)

// UserError is an error with structured context for the person running the CLI.
type UserError struct {
	// Message is what went wrong.
	Message string
	// Cause is why it happened.
	Cause string
	// Fix is what to do about it.
	Fix string
	// ExitCode is used by FatalError.
	ExitCode int
	// Err is the wrapped error, if any.
	Err error
}

// Error implements the error interface.
func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is and errors.As.
func (e *UserError) Unwrap() error {
	return e.Err
}

func newUserError(code int, msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: code, Err: err}
}

// NewConfigError reports a missing or invalid configuration.
func NewConfigError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitConfig, msg, cause, fix, err)
}

// NewWarehouseError reports a failure of the table store.
func NewWarehouseError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitWarehouse, msg, cause, fix, err)
}

// NewNetworkError reports a failure talking to the remote API or object storage.
func NewNetworkError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitNetwork, msg, cause, fix, err)
}

// NewInputError reports invalid command-line input. It wraps nothing.
func NewInputError(msg, cause, fix string) *UserError {
	return newUserError(ExitInput, msg, cause, fix, nil)
}

// NewPermissionError reports a permission failure.
func NewPermissionError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitPermission, msg, cause, fix, err)
}

// NewNotFoundError reports a missing resource. It wraps nothing.
func NewNotFoundError(msg, cause, fix string) *UserError {
	return newUserError(ExitNotFound, msg, cause, fix, nil)
}

// NewDataError reports input data that violated a contract the run depends on,
// such as a content stream that is not sorted by repository.
func NewDataError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitData, msg, cause, fix, err)
}

// NewInterruptedError reports a run stopped by a signal.
func NewInterruptedError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitInterrupted, msg, cause, fix, err)
}

// NewInternalError reports a bug.
func NewInternalError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitInternal, msg, cause, fix, err)
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format renders the error for a terminal. Empty Cause or Fix lines are
// omitted. Color is disabled by noColor or the NO_COLOR environment variable.
func (e *UserError) Format(noColor bool) string {
	// color.NoColor is global; restore it on the way out.
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	out.WriteString("\n")
	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}
	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}
	return out.String()
}

// ErrorJSON is the --json rendering of a UserError.
type ErrorJSON struct {
	Error    string `json:"error"`
	Cause    string `json:"cause,omitempty"`
	Fix      string `json:"fix,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ToJSON converts the error to its JSON form.
func (e *UserError) ToJSON() ErrorJSON {
	return ErrorJSON{
		Error:    e.Message,
		Cause:    e.Cause,
		Fix:      e.Fix,
		ExitCode: e.ExitCode,
	}
}

// exit is replaced in tests.
var exit = os.Exit

// FatalError prints err and exits with its code. Errors that are not a
// UserError exit with ExitInternal. A nil err is a no-op.
func FatalError(err error, jsonOutput bool) {
	if err == nil {
		return
	}

	if ue, ok := err.(*UserError); ok {
		if jsonOutput {
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			_ = enc.Encode(ue.ToJSON())
		} else {
			fmt.Fprint(os.Stderr, ue.Format(false))
		}
		exit(ue.ExitCode)
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	exit(ExitInternal)
}
