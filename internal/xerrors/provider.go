package xerrors

import (
	"errors"

	"github.com/aws/smithy-go"
)

// APICode returns the provider error code in err's chain, or "".
func APICode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

// CodeSuffix formats err's provider code as " (Code)" for appending to a
// wrap message, or "" when there is none.
func CodeSuffix(err error) string {
	if code := APICode(err); code != "" {
		return " (" + code + ")"
	}
	return ""
}
