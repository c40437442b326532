package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference.
//
// # Error Codes Reference
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: File exceeds the maximum upload size
//	FILE002 - Unsupported format: Only .csv and .xlsx files can be imported
//	FILE003 - Empty file: The uploaded file has no rows
//	FILE004 - Unreadable file: The file could not be read as a table
//	FILE005 - No file: No file was provided
//
// # Layout Errors (LAY001-LAY099)
//
//	LAY001 - Anchor not found: "Employee Name" header missing from the top rows
//	LAY002 - Unknown layout: Requested layout is not flat, block or auto
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import cancelled
//	IMP002 - System busy: Too many imports in progress
//	IMP003 - Run not found: The import run has expired or never existed
//	IMP004 - Invalid date in a record
//	IMP005 - Person not visible after creation
//	IMP006 - Label map: The label mapping file could not be loaded
//	IMP007 - Run in progress: The run has not finished yet
//	IMP008 - Imports active: Reset refused while imports are running
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate person
//	DB002 - Connection refused
//	DB003 - Connection reset
//	DB004 - Timeout
//	DB005 - Deadlock
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Unauthorized: Missing or invalid API key
//	REQ002 - Request cancelled
//	REQ003 - Request timed out
//	REQ004 - Invalid option: A request option has an invalid value
//
// # Default Error (ERR000)
//
// Typed errors are matched first with errors.Is/errors.As. Anything else falls
// back to case-insensitive substring patterns; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/competency-import/internal/competency"
	"github.com/JonMunkholm/competency-import/internal/layout"
	"github.com/JonMunkholm/competency-import/internal/normalize"
	"github.com/JonMunkholm/competency-import/internal/schema"
	"github.com/JonMunkholm/competency-import/internal/tabular"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgFileTooLarge = UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the matrix into smaller files",
		Code:    "FILE001",
	}
	msgUnsupportedFormat = UserMessage{
		Message: "Only .csv and .xlsx files can be imported",
		Action:  "Export the training matrix as CSV or XLSX",
		Code:    "FILE002",
	}
	msgEmptyFile = UserMessage{
		Message: "The uploaded file has no rows",
		Action:  "Check that you exported the right sheet",
		Code:    "FILE003",
	}
	msgUnreadable = UserMessage{
		Message: "The file could not be read as a table",
		Action:  "Re-save the file from your spreadsheet tool and try again",
		Code:    "FILE004",
	}
	msgNoFile = UserMessage{
		Message: "No file was provided",
		Action:  "Select a training matrix to upload",
		Code:    "FILE005",
	}
	msgNoAnchor = UserMessage{
		Message: "Could not find the \"Employee Name\" header",
		Action:  "Make sure the header row is within the first 10 rows",
		Code:    "LAY001",
	}
	msgUnknownLayout = UserMessage{
		Message: "Unknown layout",
		Action:  "Use flat, block or auto",
		Code:    "LAY002",
	}
	msgCancelled = UserMessage{
		Message: "Import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "IMP001",
	}
	msgBusy = UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP002",
	}
	msgRunNotFound = UserMessage{
		Message: "Import run not found",
		Action:  "The run may have expired. Start a new import",
		Code:    "IMP003",
	}
	msgInvalidDate = UserMessage{
		Message: "Invalid date",
		Action:  "Use DD/MM/YYYY dates",
		Code:    "IMP004",
	}
	msgNotVisible = UserMessage{
		Message: "The new person could not be confirmed",
		Action:  "Re-run the import; existing people are reused",
		Code:    "IMP005",
	}
	msgLabelMap = UserMessage{
		Message: "The label mapping file could not be loaded",
		Action:  "Check IMPORT_LABEL_MAP_PATH and the file's version",
		Code:    "IMP006",
	}
	msgRunInProgress = UserMessage{
		Message: "Import is still running",
		Action:  "Wait for the run to complete and try again",
		Code:    "IMP007",
	}
	msgImportsActive = UserMessage{
		Message: "Imports are in progress",
		Action:  "Wait for running imports to finish before resetting",
		Code:    "IMP008",
	}
	msgDuplicatePerson = UserMessage{
		Message: "A person with this email or username already exists",
		Action:  "Re-run the import to reuse the existing person",
		Code:    "DB001",
	}
	msgTimeout = UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB004",
	}
	msgUnauthorized = UserMessage{
		Message: "Missing or invalid API key",
		Action:  "Send a valid key in the X-API-Key header",
		Code:    "REQ001",
	}
	msgRequestCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ002",
	}
	msgInvalidOption = UserMessage{
		Message: "A request option has an invalid value",
		Action:  "Check the layout and dry_run fields",
		Code:    "REQ004",
	}
	msgRequestTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or check your connection",
		Code:    "REQ003",
	}
)

// ErrFileTooLarge is returned when an upload exceeds the configured size.
var ErrFileTooLarge = errors.New("file too large")

// ErrNoFile is returned when a request carries no file.
var ErrNoFile = errors.New("no file provided")

// ErrUnauthorized is returned for requests without a valid API key.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInvalidOption is returned for request options with invalid values.
var ErrInvalidOption = errors.New("invalid option")

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns covers errors that arrive without a type, mostly from the
// database driver. Order matters: specific before general.
var errorPatterns = []errorPattern{
	{pattern: "duplicate key", msg: msgDuplicatePerson},
	{pattern: "violates unique", msg: msgDuplicatePerson},
	{pattern: "connection refused", msg: UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB002",
	}},
	{pattern: "connection reset", msg: UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB003",
	}},
	{pattern: "timeout", msg: msgTimeout},
	{pattern: "deadlock", msg: UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{pattern: "invalid date", msg: msgInvalidDate},
	{pattern: "file too large", msg: msgFileTooLarge},
	{pattern: "request body too large", msg: msgFileTooLarge},
	{pattern: "unknown layout", msg: msgUnknownLayout},
}

// defaultMessage is returned when nothing matches (ERR000). Support staff
// should check the logs for the technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	if msg, ok := mapTyped(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

func mapTyped(err error) (UserMessage, bool) {
	var (
		decodeErr *tabular.DecodeError
		layoutErr *layout.DetectionError
		dateErr   *normalize.DateError
	)
	switch {
	case errors.Is(err, ErrNoFile):
		return msgNoFile, true
	case errors.Is(err, ErrFileTooLarge):
		return msgFileTooLarge, true
	case errors.Is(err, ErrUnauthorized):
		return msgUnauthorized, true
	case errors.Is(err, ErrInvalidOption):
		return msgInvalidOption, true
	case errors.Is(err, ErrTooManyImports):
		return msgBusy, true
	case errors.Is(err, ErrRunNotFound):
		return msgRunNotFound, true
	case errors.Is(err, ErrRunCancelled):
		return msgCancelled, true
	case errors.Is(err, ErrRunInProgress):
		return msgRunInProgress, true
	case errors.Is(err, ErrImportsActive):
		return msgImportsActive, true
	case errors.Is(err, ErrPersonNotVisible):
		return msgNotVisible, true
	case errors.Is(err, competency.ErrConflict):
		return msgDuplicatePerson, true
	case errors.Is(err, schema.ErrLabelMapNotFound):
		return msgLabelMap, true
	case errors.Is(err, layout.ErrUnknownLayout):
		return msgUnknownLayout, true
	case errors.Is(err, tabular.ErrUnsupportedFormat):
		return msgUnsupportedFormat, true
	case errors.Is(err, tabular.ErrEmptyGrid):
		return msgEmptyFile, true
	case errors.As(err, &decodeErr):
		return msgUnreadable, true
	case errors.As(err, &layoutErr):
		return msgNoAnchor, true
	case errors.As(err, &dateErr):
		return msgInvalidDate, true
	case errors.Is(err, context.Canceled):
		return msgRequestCancelled, true
	case errors.Is(err, context.DeadlineExceeded):
		return msgRequestTimeout, true
	}
	return UserMessage{}, false
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
