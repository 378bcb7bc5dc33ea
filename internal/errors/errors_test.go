package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodedError_Error(t *testing.T) {
	err := New(CodeNotFound, "device esp-1 not found")
	assert.Equal(t, "resource.not_found: device esp-1 not found", err.Error())

	wrapped := Wrap(CodeInternal, "snapshot write failed", fmt.Errorf("disk full"))
	assert.Equal(t, "error.internal: snapshot write failed (disk full)", wrapped.Error())
}

func TestGetCode_ThroughWrapping(t *testing.T) {
	inner := InvalidState("device esp-1 is offline")
	outer := fmt.Errorf("shutdown request: %w", inner)

	assert.Equal(t, CodeInvalidState, GetCode(outer))
	assert.True(t, IsCode(outer, CodeInvalidState))
	assert.False(t, IsCode(outer, CodeNotFound))
}

func TestGetCode_Plain(t *testing.T) {
	assert.Equal(t, "", GetCode(nil))
	assert.Equal(t, CodeUnknown, GetCode(errors.New("boom")))
}

func TestToCodeAndMessage(t *testing.T) {
	code, msg := ToCodeAndMessage(NotFound("task abc"))
	assert.Equal(t, CodeNotFound, code)
	assert.Equal(t, "task abc not found", msg)

	code, msg = ToCodeAndMessage(errors.New("raw"))
	assert.Equal(t, CodeUnknown, code)
	assert.Equal(t, "raw", msg)
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("io")
	err := Internal("flush", cause)
	assert.ErrorIs(t, err, cause)
}

func TestUnauthorized_DoesNotLeakDetail(t *testing.T) {
	assert.Equal(t, "invalid or expired credentials", Unauthorized().Message)
}
