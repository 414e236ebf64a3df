// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. When an operator hits an error, the code identifies the
// failure class without exposing raw server output.
//
// Error codes are grouped by category:
//
// # Helix Server Errors (HLX001-HLX099)
//
//	HLX001 - Not logged in: Helix session is missing or expired
//	         Action: Run p4 login for the admin account and retry
//	         Patterns: "invalid or unset", "please login", "session has expired", "p4passwd"
//
//	HLX002 - Connect failed: Unable to reach the Helix server
//	         Action: Check HELIX_PORT and server availability
//	         Patterns: "connect to server failed", "connection refused"
//
//	HLX003 - Access denied: Admin account lacks required permission
//	         Action: The configured account needs super access
//	         Patterns: "you don't have permission", "protected namespace"
//
//	HLX004 - No such template: Template depot was not found
//	         Action: Verify the template name against GET /api/templates
//	         Patterns: "template depot not found"
//
//	HLX005 - Seat limit: Not enough licensed seats for the new users
//	         Action: Reduce the roster or raise the server license
//	         Patterns: "seat limit", "license quota"
//
// # Roster Errors (CSV001-CSV099)
//
//	CSV001 - Invalid CSV: File could not be parsed as CSV
//	         Action: Export the roster again as comma-separated UTF-8
//	         Patterns: "invalid csv"
//
//	CSV002 - Empty roster: No data rows were found
//	         Action: Upload a roster with at least one member row
//	         Patterns: "empty file", "no data rows"
//
//	CSV003 - Row rejected: A row failed validation
//	         Action: Fix the reported row and re-upload the full file
//	         Patterns: "row ", "validation failed"
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Run in progress: Another provisioning run holds the gate
//	         Action: Wait for the current run to finish
//	         Patterns: "already in progress"
//
//	RUN002 - Run not found: No run with that ID is tracked
//	         Action: The run may have been cleared on restart
//	         Patterns: "run not found", "no such run"
//
//	RUN003 - Not awaiting confirmation: Populate was confirmed out of turn
//	         Action: Confirm only while the run reports awaiting_populate
//	         Patterns: "not awaiting populate", "already confirmed"
//
//	RUN004 - Undo log failed: The undo file could not be written
//	         Action: Check disk space and PROVISION_UNDO_DIR permissions
//	         Patterns: "persist undo"
//
//	RUN005 - Request cancelled: Request was cancelled or timed out
//	         Action: Please try again
//	         Patterns: "context canceled", "context deadline exceeded"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Rate limited: Too many requests
//	          Action: Please wait a moment before trying again
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Check the server log for the original error
//
// Patterns are matched case-insensitively with strings.Contains; the
// first matching pattern wins, so specific patterns come before general
// ones.
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

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user
// messages. Order matters: specific before general, and multiple patterns
// may share a code.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Helix Server Errors (HLX001-HLX005)
	// =========================================================================
	{
		pattern: "invalid or unset",
		msg: UserMessage{
			Message: "The Helix admin session is missing or expired",
			Action:  "Log in the admin account and retry",
			Code:    "HLX001",
		},
	},
	{
		pattern: "please login",
		msg: UserMessage{
			Message: "The Helix admin session is missing or expired",
			Action:  "Log in the admin account and retry",
			Code:    "HLX001",
		},
	},
	{
		pattern: "session has expired",
		msg: UserMessage{
			Message: "The Helix admin session is missing or expired",
			Action:  "Log in the admin account and retry",
			Code:    "HLX001",
		},
	},
	{
		pattern: "p4passwd",
		msg: UserMessage{
			Message: "The Helix admin session is missing or expired",
			Action:  "Log in the admin account and retry",
			Code:    "HLX001",
		},
	},
	{
		pattern: "connect to server failed",
		msg: UserMessage{
			Message: "Unable to reach the Helix server",
			Action:  "Check the configured server address and that the server is up",
			Code:    "HLX002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to reach the Helix server",
			Action:  "Check the configured server address and that the server is up",
			Code:    "HLX002",
		},
	},
	{
		pattern: "you don't have permission",
		msg: UserMessage{
			Message: "The admin account lacks the required permission",
			Action:  "The configured account needs super access",
			Code:    "HLX003",
		},
	},
	{
		pattern: "protected namespace",
		msg: UserMessage{
			Message: "The admin account lacks the required permission",
			Action:  "The configured account needs super access",
			Code:    "HLX003",
		},
	},
	{
		pattern: "template depot not found",
		msg: UserMessage{
			Message: "The selected template depot was not found",
			Action:  "Verify the template name against the template list",
			Code:    "HLX004",
		},
	},
	{
		pattern: "seat limit",
		msg: UserMessage{
			Message: "Not enough licensed seats for the new users",
			Action:  "Reduce the roster or raise the server license",
			Code:    "HLX005",
		},
	},
	{
		pattern: "license quota",
		msg: UserMessage{
			Message: "Not enough licensed seats for the new users",
			Action:  "Reduce the roster or raise the server license",
			Code:    "HLX005",
		},
	},

	// =========================================================================
	// Roster Errors (CSV001-CSV003)
	// =========================================================================
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "The roster file could not be parsed as CSV",
			Action:  "Export the roster again as comma-separated UTF-8",
			Code:    "CSV001",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "No data rows were found in the roster",
			Action:  "Upload a roster with at least one member row",
			Code:    "CSV002",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "No data rows were found in the roster",
			Action:  "Upload a roster with at least one member row",
			Code:    "CSV002",
		},
	},
	{
		pattern: "validation failed",
		msg: UserMessage{
			Message: "A roster row failed validation",
			Action:  "Fix the reported row and re-upload the full file",
			Code:    "CSV003",
		},
	},

	// =========================================================================
	// Run Errors (RUN001-RUN005)
	// =========================================================================
	{
		pattern: "already in progress",
		msg: UserMessage{
			Message: "Another provisioning run is in progress",
			Action:  "Wait for the current run to finish",
			Code:    "RUN001",
		},
	},
	{
		pattern: "run not found",
		msg: UserMessage{
			Message: "No run with that ID is tracked",
			Action:  "The run may have been cleared on restart",
			Code:    "RUN002",
		},
	},
	{
		pattern: "no such run",
		msg: UserMessage{
			Message: "No run with that ID is tracked",
			Action:  "The run may have been cleared on restart",
			Code:    "RUN002",
		},
	},
	{
		pattern: "not awaiting populate",
		msg: UserMessage{
			Message: "The run is not waiting for populate confirmation",
			Action:  "Confirm only while the run reports awaiting_populate",
			Code:    "RUN003",
		},
	},
	{
		pattern: "already confirmed",
		msg: UserMessage{
			Message: "Populate was already confirmed for this run",
			Action:  "Watch the run's progress stream for the result",
			Code:    "RUN003",
		},
	},
	{
		pattern: "persist undo",
		msg: UserMessage{
			Message: "The undo log could not be written",
			Action:  "Check disk space and the undo directory permissions",
			Code:    "RUN004",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "RUN005",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Please try again",
			Code:    "RUN005",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000). Check the
// application log for the original error when an operator reports ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the server log for details",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. It
// returns the first matching pattern, or the ERR000 fallback.
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

// FormatUserError creates a formatted error string for display, in the
// form "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matched a specific pattern rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
