package apperr

// Code classifies an AppError.
type Code string

const (
	CodeInvalidSeed       Code = "INVALID_SEED"
	CodeInvalidKeyFormat  Code = "INVALID_KEY_FORMAT"
	CodeInvalidAddress    Code = "INVALID_ADDRESS"
	CodeInvalidAmount     Code = "INVALID_AMOUNT"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeDecryptionFailed  Code = "DECRYPTION_FAILED"
	CodeUnlockFailed      Code = "UNLOCK_FAILED"
	CodePersistence       Code = "PERSISTENCE_ERROR"
	CodeConfiguration     Code = "CONFIGURATION_ERROR"
	CodeRemoteUnavailable Code = "REMOTE_UNAVAILABLE"
	CodeNotImplemented    Code = "NOT_IMPLEMENTED"
	CodeInvalidUserID     Code = "INVALID_USER_ID"
	CodeInvalidWallet     Code = "INVALID_WALLET"
	CodeBackendNotReady   Code = "BACKEND_NOT_READY"
)
