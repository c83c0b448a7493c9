package types

import (
	"fmt"
	"testing"
)

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		err      error
		category func(error) bool
		name     string
	}{
		{ErrActiveTestExists, IsConflict, "IsConflict"},
		{ErrAlreadySubmitted, IsConflict, "IsConflict"},
		{ErrTestNotFound, IsNotFound, "IsNotFound"},
		{ErrParticipantNotFound, IsNotFound, "IsNotFound"},
		{ErrTestNotReady, IsInvalidState, "IsInvalidState"},
		{ErrTestNotActive, IsInvalidState, "IsInvalidState"},
		{ErrNoActiveTest, IsInvalidState, "IsInvalidState"},
		{ErrUnauthorized, IsUnauthorized, "IsUnauthorized"},
		{ErrNotRegistered, IsUnauthorized, "IsUnauthorized"},
		{ErrEmptyWord, IsValidation, "IsValidation"},
		{ErrEmptyWordList, IsValidation, "IsValidation"},
		{ErrInvalidUsername, IsValidation, "IsValidation"},
	}

	for _, tc := range tests {
		if !tc.category(tc.err) {
			t.Errorf("%s(%v) = false, expected true", tc.name, tc.err)
		}
		// Categories must survive wrapping, handlers always wrap.
		wrapped := fmt.Errorf("context: %w", tc.err)
		if !tc.category(wrapped) {
			t.Errorf("%s(wrapped %v) = false, expected true", tc.name, tc.err)
		}
	}
}

func TestErrorCategoriesAreDisjoint(t *testing.T) {
	if IsConflict(ErrTestNotFound) {
		t.Error("ErrTestNotFound should not be a conflict")
	}
	if IsNotFound(ErrActiveTestExists) {
		t.Error("ErrActiveTestExists should not be not-found")
	}
	if IsValidation(ErrNoActiveTest) {
		t.Error("ErrNoActiveTest should not be a validation error")
	}
}
