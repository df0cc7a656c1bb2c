// Package core provides the spreadsheet lookup index.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - No source: no spreadsheet has been uploaded yet
//	         Action: Upload the current .xlsx file
//	         Patterns: "no source file"
//
// # Sheet Errors (SCH001-SCH099)
//
//	SCH001 - Sheet missing: the configured sheet is not in the workbook
//	         Action: Rename the sheet or upload the right workbook
//	         Patterns: "sheet not found"
//
//	SCH002 - Header missing: no header row with Imprimé, Code EDI and Libellé
//	         Action: Check the column titles in the first rows of the sheet
//	         Patterns: "header row not found"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Not a readable xlsx workbook ("invalid xlsx")
//	FILE003 - Wrong extension ("only .xlsx")
//	FILE004 - No file in the form ("no file provided")
//	FILE005 - Empty upload ("empty file")
//
// # Store Errors (DB001-DB099)
//
//	DB001 - Store locked ("database is locked")
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout
//	DB007 - Deadlock
//	DB010 - Any other store failure ("index store")
//
// # Request Errors
//
//	VAL001  - Missing lookup key ("missing lookup key")
//	UPL002  - Too many concurrent uploads
//	UPL004  - Request cancelled ("context canceled")
//	UPL005  - Request timed out ("context deadline exceeded")
//	AUTH001 - Missing admin key
//	AUTH002 - Invalid admin key
//	RATE001 - Rate limited
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Check the application logs for
// the technical error.
//
// # Pattern Matching
//
// Patterns are matched case-insensitively using strings.Contains against the
// full error chain text. The first matching pattern wins, so more specific
// patterns come first.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Source and sheet errors
	// =========================================================================
	{
		pattern: "no source file",
		msg: UserMessage{
			Message: "No spreadsheet has been uploaded yet",
			Action:  "Upload the current .xlsx file",
			Code:    "SRC001",
		},
	},
	{
		pattern: "sheet not found",
		msg: UserMessage{
			Message: "The configured sheet was not found in the workbook",
			Action:  "Rename the sheet or upload the right workbook",
			Code:    "SCH001",
		},
	},
	{
		pattern: "header row not found",
		msg: UserMessage{
			Message: "Column headers not found",
			Action:  "Check that Imprimé, Code EDI and Libellé appear in the first rows of the sheet",
			Code:    "SCH002",
		},
	},

	// =========================================================================
	// File errors
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Remove unused sheets or split the workbook",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid xlsx",
		msg: UserMessage{
			Message: "The file is not a readable Excel workbook",
			Action:  "Save the file as .xlsx and upload it again",
			Code:    "FILE002",
		},
	},
	{
		pattern: "only .xlsx",
		msg: UserMessage{
			Message: "Invalid format (.xlsx only)",
			Action:  "Save the file as .xlsx and upload it again",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select an .xlsx file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a workbook with data rows",
			Code:    "FILE005",
		},
	},

	// =========================================================================
	// Request errors
	// =========================================================================
	{
		pattern: "missing lookup key",
		msg: UserMessage{
			Message: "Both imprimé and code EDI are required",
			Action:  "Fill in both fields and try again",
			Code:    "VAL001",
		},
	},
	{
		pattern: "invalid lookup mode",
		msg: UserMessage{
			Message: "Invalid lookup mode",
			Action:  "Use all=true for every match or omit it for the first match",
			Code:    "VAL002",
		},
	},
	{
		pattern: "too many uploads",
		msg: UserMessage{
			Message: "System is busy processing other uploads",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Please try again in a moment",
			Code:    "UPL005",
		},
	},
	{
		pattern: "missing admin key",
		msg: UserMessage{
			Message: "Unauthorized",
			Action:  "Provide the admin key",
			Code:    "AUTH001",
		},
	},
	{
		pattern: "invalid admin key",
		msg: UserMessage{
			Message: "Unauthorized",
			Action:  "Check the admin key",
			Code:    "AUTH002",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},

	// =========================================================================
	// Store errors
	// =========================================================================
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "The index is busy",
			Action:  "Please try again",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "index changed during lookup",
		msg: UserMessage{
			Message: "The index was being rebuilt",
			Action:  "Please retry the lookup",
			Code:    "DB011",
		},
	},
	{
		pattern: "index store",
		msg: UserMessage{
			Message: "The lookup index could not be read or written",
			Action:  "Please try again or contact support",
			Code:    "DB010",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
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

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
