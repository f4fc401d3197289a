package chat

import (
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	if err := ValidateContent("hello"); err != nil {
		t.Errorf("valid content rejected: %v", err)
	}
	if err := ValidateContent(""); err == nil {
		t.Error("empty content accepted")
	}
	if err := ValidateContent("  \t "); err == nil {
		t.Error("whitespace-only content accepted")
	}
	if err := ValidateContent(strings.Repeat("x", MaxContentBytes+1)); err == nil {
		t.Error("oversized content accepted")
	}
	if err := ValidateContent(string([]byte{0xff, 0xfe})); err == nil {
		t.Error("invalid UTF-8 accepted")
	}
}
