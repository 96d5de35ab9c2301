package xerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
)

func TestAPICode(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}

	tests := []struct {
		name string
		err  error
		code string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("x"), ""},
		{"direct", apiErr, "AccessDenied"},
		{"wrapped", Wrap(apiErr, "list"), "AccessDenied"},
		{"marked", Mark(fmt.Errorf("op: %w", apiErr), errors.New("kind")), "AccessDenied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := APICode(tt.err); got != tt.code {
				t.Fatalf("APICode = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestCodeSuffix(t *testing.T) {
	if got := CodeSuffix(&smithy.GenericAPIError{Code: "NoSuchBucket"}); got != " (NoSuchBucket)" {
		t.Fatalf("suffix = %q", got)
	}
	if got := CodeSuffix(errors.New("x")); got != "" {
		t.Fatalf("plain suffix = %q", got)
	}
}
