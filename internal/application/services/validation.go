package services

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anyhui/aleeai-prompt/internal/domain"
)

const (
	// MaxPromptLength bounds the input prompt and saved version content, in characters.
	MaxPromptLength = 100000
	// MaxPromptIDLength bounds a prompt id.
	MaxPromptIDLength = 200
)

// ValidateID checks that an ID is not empty
func ValidateID(id string, entityType string) error {
	if id == "" {
		return domain.NewDomainError(domain.ErrInvalidInput, entityType+" ID cannot be empty")
	}
	return nil
}

// ValidateRequired checks that a required string field is not blank
func ValidateRequired(value string, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return domain.NewDomainError(domain.ErrInvalidInput, fieldName+" is required")
	}
	return nil
}

// ValidateStringLength checks that a string's length in characters is within the specified range
func ValidateStringLength(value string, fieldName string, minLen, maxLen int) error {
	length := utf8.RuneCountInString(value)
	if minLen > 0 && length < minLen {
		return domain.NewDomainError(domain.ErrInvalidInput,
			fmt.Sprintf("%s must be at least %d characters (got %d)", fieldName, minLen, length))
	}
	if maxLen > 0 && length > maxLen {
		return domain.NewDomainError(domain.ErrInvalidInput,
			fmt.Sprintf("%s must be at most %d characters (got %d)", fieldName, maxLen, length))
	}
	return nil
}

// ValidatePrompt checks an optimization input.
func ValidatePrompt(prompt string) error {
	if err := ValidateRequired(prompt, "prompt"); err != nil {
		return err
	}
	return ValidateStringLength(prompt, "prompt", 0, MaxPromptLength)
}

// ValidatePromptID checks a version history key.
func ValidatePromptID(promptID string) error {
	if err := ValidateID(promptID, "prompt"); err != nil {
		return err
	}
	if strings.TrimSpace(promptID) != promptID {
		return domain.NewDomainError(domain.ErrInvalidInput, "prompt ID must not have leading or trailing spaces")
	}
	return ValidateStringLength(promptID, "prompt ID", 0, MaxPromptIDLength)
}
