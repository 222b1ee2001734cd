package validation

import (
	"fmt"

	dErrors "custodian/pkg/domain-errors"
)

// Slice element count limits
const (
	// MaxRefreshBPNs is the maximum number of BPNs in one refresh request.
	MaxRefreshBPNs = 500

	// MaxCredentialTypes is the maximum number of types on an issued credential.
	MaxCredentialTypes = 16

	// MaxPresentedCredentials is the maximum number of credentials in one presentation.
	MaxPresentedCredentials = 100
)

// String element length limits
const (
	// MaxIdentifierLength bounds BPN and DID identifiers.
	MaxIdentifierLength = 255

	// MaxCredentialTypeLength is the maximum length of one credential type.
	MaxCredentialTypeLength = 100

	// MaxAudienceLength is the maximum length of a presentation audience.
	MaxAudienceLength = 2048
)

// CheckSliceCount validates that a slice does not exceed the maximum count.
func CheckSliceCount(fieldName string, count, max int) error {
	if count > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("too many %s: max %d allowed", fieldName, max))
	}
	return nil
}

// CheckStringLength validates that a string does not exceed the maximum length.
func CheckStringLength(fieldName, value string, max int) error {
	if len(value) > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
	}
	return nil
}

// CheckEachStringLength validates that each string in a slice does not exceed the maximum length.
func CheckEachStringLength(fieldName string, values []string, max int) error {
	for _, v := range values {
		if len(v) > max {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
		}
	}
	return nil
}
