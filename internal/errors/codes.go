package errors

// Generic error codes used as defaults across modules.
const (
	CodeSystemGeneric     = "SYS-000"
	CodeNetworkGeneric    = "NET-000"
	CodeFilesystemGeneric = "FS-000"
	CodeExtractionGeneric = "EXT-000"
	CodeProcessGeneric    = "PRC-000"
	CodeUpdateGeneric     = "UPD-000"
	CodeConfigGeneric     = "CFG-000"
	CodeValidationGeneric = "VAL-000"
	CodeDatabaseGeneric   = "DB-000"
)

// Codes for the operation failure taxonomy.
const (
	// CodeTransfer: network or I/O failure during a download. Recovered as a
	// Failed transfer state.
	CodeTransfer = "NET-100"
	// CodeHTTPStatus: the server answered with a non-success status.
	CodeHTTPStatus = "NET-101"
	// CodeTruncated: the body ended before the declared size was reached.
	CodeTruncated = "NET-102"

	CodeExtractionToolMissing = "EXT-100"
	CodeExtractionWarning     = "EXT-101"
	CodeExtractionIncomplete  = "EXT-102"
	CodeExtractionStopped     = "EXT-103"

	CodeCleanupItem = "FS-100"

	CodeHolderQueryUnavailable = "PRC-100"
	CodeProcessKill            = "PRC-101"

	// CodeReplace: the replace step exhausted its retry budget.
	CodeReplace  = "UPD-100"
	CodeRelaunch = "UPD-101"

	CodeMetadata = "NET-200"

	// Host setup around install and cleanup. These end up as warnings.
	CodeDefender = "SYS-100"
	CodeDriver   = "SYS-101"
	CodeRuntimes = "SYS-102"
)
