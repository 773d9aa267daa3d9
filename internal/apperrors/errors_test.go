package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errMissing = errors.New("practitioner not found")

func TestKindOfWrappedError(t *testing.T) {
	err := fmt.Errorf("create appointment: %w", Conflict("appointment_conflict", "slot taken"))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "appointment_conflict", CodeOf(err))
	assert.True(t, Is(err, KindConflict))
}

func TestForeignErrorIsInternal(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal_error", CodeOf(err))
}

func TestNotFoundKeepsSentinel(t *testing.T) {
	err := NotFound("practitioner_not_found", errMissing)
	assert.ErrorIs(t, err, errMissing)
	assert.Equal(t, "not_found: practitioner not found: practitioner not found", err.Error())
}

func TestWithDetail(t *testing.T) {
	detail := map[string]int{"required": 2, "available": 1}
	err := ResourceShortfall("not enough rooms").WithDetail(detail)
	got, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, detail, got.Detail)
}
