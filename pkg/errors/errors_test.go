package errors

import (
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Clone(ErrForbidden, "not your grievance"))

	got := FromError(wrapped)

	assert.Equal(t, http.StatusForbidden, got.Status)
	assert.Equal(t, "not your grievance", got.Message)
}

func TestFromErrorHidesUnknownErrors(t *testing.T) {
	got := FromError(sql.ErrConnDone)

	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.Equal(t, ErrInternal.Message, got.Message)
	assert.ErrorIs(t, got, sql.ErrConnDone)
}

func TestConfigurationErrorIsServiceUnavailable(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, ErrConfiguration.Status)
	assert.Nil(t, FromError(nil))
}

type grievanceInput struct {
	StudentID string `validate:"required"`
	Priority  string `validate:"oneof=low medium high urgent"`
	SIMNumber string `validate:"max=3"`
}

func TestValidationListsFields(t *testing.T) {
	err := validator.New().Struct(grievanceInput{Priority: "critical", SIMNumber: "12345"})

	got := Validation(err)

	assert.Equal(t, http.StatusBadRequest, got.Status)
	assert.Equal(t, "student_id is required", got.Message)
	assert.Equal(t, map[string]string{
		"student_id": "is required",
		"priority":   "must be one of: low, medium, high, urgent",
		"sim_number": "must be at most 3",
	}, got.Fields)
}

func TestValidationWithoutValidatorOutput(t *testing.T) {
	got := Validation(fmt.Errorf("bad json"))

	assert.Equal(t, ErrValidation.Message, got.Message)
	assert.Empty(t, got.Fields)
}

func TestCloneMatchesByCode(t *testing.T) {
	clone := Clone(ErrNotFound, "grievance not found")

	assert.ErrorIs(t, fmt.Errorf("load: %w", clone), ErrNotFound)
	assert.NotErrorIs(t, clone, ErrForbidden)
}
