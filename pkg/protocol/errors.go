package protocol

import (
	"errors"
	"fmt"

	"github.com/dukex/flowline/pkg/models"
)

// ConfigurationError reports a missing or invalid node configuration.
type ConfigurationError struct {
	NodeID  string // Node whose data failed validation
	Message string // Human-readable reason
	Err     error  // Underlying decode or validation error, if any
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("node %s: invalid configuration: %s: %v", e.NodeID, e.Message, e.Err)
	}

	return fmt.Sprintf("node %s: invalid configuration: %s", e.NodeID, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NonRetriable marks the error as terminal for the execution.
func (e *ConfigurationError) NonRetriable() bool { return true }

// NewConfigurationError builds a ConfigurationError with a formatted message.
func NewConfigurationError(nodeID, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

// WrapConfigurationError attaches a reason and cause to a ConfigurationError.
func WrapConfigurationError(nodeID, message string, err error) *ConfigurationError {
	return &ConfigurationError{NodeID: nodeID, Message: message, Err: err}
}

// CredentialNotFoundError reports a credential that does not exist or is not
// owned by the requesting user.
type CredentialNotFoundError struct {
	CredentialID string
	UserID       string
}

func (e *CredentialNotFoundError) Error() string {
	return fmt.Sprintf("credential %s not found for user %s", e.CredentialID, e.UserID)
}

func (e *CredentialNotFoundError) NonRetriable() bool { return true }

// UnknownNodeTypeError reports a node type with no registered executor.
type UnknownNodeTypeError struct {
	Type models.NodeType
}

func (e *UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("no executor registered for node type %q", string(e.Type))
}

func (e *UnknownNodeTypeError) NonRetriable() bool { return true }

// ExternalServiceError wraps a failed third-party call. It is surfaced as-is
// and never retried by the engine.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s responded with status %d: %v", e.Service, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s call failed: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// nonRetriable is implemented by errors that must stop the execution outright.
type nonRetriable interface {
	NonRetriable() bool
}

// IsNonRetriable inspects the error chain for a terminal error.
func IsNonRetriable(err error) bool {
	var nr nonRetriable
	if errors.As(err, &nr) {
		return nr.NonRetriable()
	}

	return false
}

// IsConfigurationError checks if an error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError

	return errors.As(err, &target)
}

// IsCredentialNotFound checks if an error is a CredentialNotFoundError.
func IsCredentialNotFound(err error) bool {
	var target *CredentialNotFoundError

	return errors.As(err, &target)
}

// IsUnknownNodeType checks if an error is an UnknownNodeTypeError.
func IsUnknownNodeType(err error) bool {
	var target *UnknownNodeTypeError

	return errors.As(err, &target)
}

// IsExternalServiceError checks if an error is an ExternalServiceError.
func IsExternalServiceError(err error) bool {
	var target *ExternalServiceError

	return errors.As(err, &target)
}
