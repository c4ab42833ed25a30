package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/go-sql-driver/mysql"
	"github.com/juju/clock"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConnection represents an unreachable store or an authentication failure
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeDisk represents space or permission problems on the backup volume
	ErrorTypeDisk ErrorType = "disk"
	// ErrorTypePartialMirror represents a mirror where some buckets failed and others succeeded
	ErrorTypePartialMirror ErrorType = "partial_mirror"
	// ErrorTypeSweep represents an artifact the retention pass could not delete
	ErrorTypeSweep ErrorType = "sweep"
	// ErrorTypeDestructiveStage represents a failure during drop, create or load of a restore
	ErrorTypeDestructiveStage ErrorType = "destructive_stage"
	// ErrorTypeConfiguration represents invalid or missing configuration
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeValidation represents a bad input such as an unrecognized artifact
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents cancellation by the operator
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: false,
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

// stderrCarrier is implemented by errors from external dump/load tools
type stderrCarrier interface {
	Stderr() string
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if mysqlErr := ec.classifyMySQLError(err); mysqlErr != nil {
		return mysqlErr
	}

	if toolErr := ec.classifyToolError(err); toolErr != nil {
		return toolErr
	}

	if storeErr := ec.classifyObjectStoreError(err); storeErr != nil {
		return storeErr
	}

	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyMySQLError classifies MySQL-specific errors
func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1044, 1045: // Access denied
			return NewAppError(ErrorTypeConnection,
				"Database access denied - check username and password", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1049: // Unknown database
			return NewAppError(ErrorTypeConnection,
				"Database does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2003: // Can't connect to MySQL server
			return NewRecoverableError(ErrorTypeConnection,
				"Cannot connect to MySQL server - server may be down or unreachable", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2006: // MySQL server has gone away
			return NewRecoverableError(ErrorTypeConnection,
				"MySQL server connection lost", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return NewAppError(ErrorTypeUnknown,
				fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}

	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return NewRecoverableError(ErrorTypeConnection, "Database connection is closed", err)
	}

	return nil
}

// classifyToolError classifies failures reported on stderr by pg_dump, mysqldump and friends
func (ec *ErrorClassifier) classifyToolError(err error) *AppError {
	var carrier stderrCarrier
	if !errors.As(err, &carrier) {
		return nil
	}

	stderr := strings.ToLower(carrier.Stderr())
	switch {
	case strings.Contains(stderr, "password authentication failed"),
		strings.Contains(stderr, "access denied"),
		strings.Contains(stderr, "no password supplied"):
		return NewAppError(ErrorTypeConnection, "Database authentication failed", err)
	case strings.Contains(stderr, "could not connect"),
		strings.Contains(stderr, "connection refused"),
		strings.Contains(stderr, "can't connect"),
		strings.Contains(stderr, "could not translate host name"):
		return NewRecoverableError(ErrorTypeConnection, "Database server is unreachable", err)
	case strings.Contains(stderr, "no space left on device"),
		strings.Contains(stderr, "disk full"):
		return NewAppError(ErrorTypeDisk, "No space left on device", err)
	case strings.Contains(stderr, "permission denied"):
		return NewAppError(ErrorTypeDisk, "Permission denied writing backup output", err)
	}

	return nil
}

// classifyObjectStoreError classifies errors returned by the S3, GCS and Azure SDKs
func (ec *ErrorClassifier) classifyObjectStoreError(err error) *AppError {
	if errors.Is(err, storage.ErrBucketNotExist) {
		return NewAppError(ErrorTypeConnection, "Bucket does not exist", err)
	}

	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		code := awsErr.Code()
		switch code {
		case "NoSuchBucket":
			return NewAppError(ErrorTypeConnection, "Bucket does not exist", err).WithContext("s3_code", code)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoCredentialProviders":
			return NewAppError(ErrorTypeConnection,
				"Object store access denied - check access key and secret key", err).WithContext("s3_code", code)
		case "RequestTimeout", "RequestTimeTooSkewed", "SlowDown", "ServiceUnavailable", "InternalError", "RequestError":
			return NewRecoverableError(ErrorTypeConnection, "Object store request failed", err).WithContext("s3_code", code)
		}
		return nil
	}

	var azErr azblob.StorageError
	if errors.As(err, &azErr) {
		code := azErr.ServiceCode()
		switch code {
		case azblob.ServiceCodeContainerNotFound:
			return NewAppError(ErrorTypeConnection, "Container does not exist", err).WithContext("azure_code", code)
		case azblob.ServiceCodeAuthenticationFailed:
			return NewAppError(ErrorTypeConnection,
				"Object store access denied - check account name and key", err).WithContext("azure_code", code)
		case azblob.ServiceCodeServerBusy, azblob.ServiceCodeInternalError, azblob.ServiceCodeOperationTimedOut:
			return NewRecoverableError(ErrorTypeConnection, "Object store request failed", err).WithContext("azure_code", code)
		}
	}

	return nil
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout,
			"Network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection,
				"Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection,
				"Network I/O error", err)
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewAppError(ErrorTypeConnection,
			fmt.Sprintf("Cannot resolve host %s", dnsErr.Name), err)
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout,
			"Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption,
			"Operation was canceled", err)
	}

	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return NewAppError(ErrorTypeDisk, "No space left on device", err)
	case errors.Is(err, syscall.EROFS):
		return NewAppError(ErrorTypeDisk, "Backup volume is read-only", err)
	case errors.Is(err, os.ErrPermission):
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return NewAppError(ErrorTypeDisk,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		}
		return NewAppError(ErrorTypeDisk, "Permission denied", err)
	}

	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler retries non-destructive store calls with exponential backoff
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
	clock      clock.Clock
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
		clock:      clock.WallClock,
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// WithClock replaces the clock used to wait between attempts
func (rh *RetryHandler) WithClock(c clock.Clock) *RetryHandler {
	rh.clock = c
	return rh
}

// Retry runs operation until it succeeds, fails with an error that is not
// recoverable, or MaxAttempts is reached. It must never wrap a destructive
// operation: a drop or load that fails halfway is not safe to repeat.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return NewAppError(ErrorTypeInterruption, "Operation canceled", err).
				WithContext("attempts", attempt)
		}

		attempt++
		err := operation()
		if err == nil {
			return nil
		}

		appErr := rh.classifier.ClassifyError(err)
		if !appErr.IsRecoverable() || attempt >= rh.config.MaxAttempts {
			return appErr.WithContext("attempts", attempt)
		}

		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err()).
				WithContext("attempts", attempt).
				WithContext("last_error", err.Error())
		case <-rh.clock.After(rh.calculateDelay(attempt)):
		}
	}
}

// calculateDelay calculates the delay for a given attempt using exponential backoff
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)

	if rh.config.MaxDelay > 0 && delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}

	return delay
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether any AppError in the chain has the given type
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errorType {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}

	return err.Error()
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := NewAppError(appErr.Type, message, err)
		wrapped.Recoverable = appErr.Recoverable
		return wrapped
	}

	classifier := NewErrorClassifier()
	classifiedErr := classifier.ClassifyError(err)
	classifiedErr.Message = message
	return classifiedErr
}
