package errors

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "COMMON_001", ErrCodeInternal.String())
	assert.Equal(t, "SAMPLING_001", ErrCodeSamplingParams.String())
}

func TestHTTPStatusForCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrCodeInternal, 500},
		{ErrCodeBadRequest, 400},
		{ErrCodeNotFound, 404},
		{ErrCodeValidation, 422},
		{ErrCodeInstanceMalformed, 400},
		{ErrCodeModelNotLoaded, 503},
		{ErrCodeBuildLocked, 409},
		{ErrorCode("UNKNOWN"), 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, HTTPStatusForCode(tt.code), tt.code)
	}
}

func TestDefaultMessageForCode(t *testing.T) {
	assert.Equal(t, "internal error", DefaultMessageForCode(ErrCodeInternal))
	assert.Equal(t, "cache miss", DefaultMessageForCode(ErrCodeCacheMiss))
	assert.Equal(t, "unknown error", DefaultMessageForCode(ErrorCode("UNKNOWN")))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrCodeTourInvalid))
	assert.False(t, IsClientError(ErrCodeInferenceFailed))
}

func TestIsServerError(t *testing.T) {
	assert.True(t, IsServerError(ErrCodeHeatmapWrite))
	assert.False(t, IsServerError(ErrCodeSamplingParams))
}

func TestModuleForCode(t *testing.T) {
	assert.Equal(t, "COMMON", ModuleForCode(ErrCodeInternal))
	assert.Equal(t, "INSTANCE", ModuleForCode(ErrCodeInstanceEmpty))
	assert.Equal(t, "SAMPLING", ModuleForCode(ErrCodeSamplingFailed))
	assert.Equal(t, "MODEL", ModuleForCode(ErrCodeModelLoadFailed))
	assert.Equal(t, "HEATMAP", ModuleForCode(ErrCodeHeatmapShape))
	assert.Equal(t, "STORAGE", ModuleForCode(ErrCodeStorage))
	assert.Equal(t, "MESSAGING", ModuleForCode(ErrCodeMessaging))
	assert.Equal(t, "UNKNOWN", ModuleForCode(ErrorCode("")))
	assert.Equal(t, "UNKNOWN", ModuleForCode(CodeOK))
}

func TestErrorCodeMappings_Completeness(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z]+_\d{3}$`)
	for code := range ErrorCodeHTTPStatus {
		assert.Regexp(t, re, string(code))
		_, hasMessage := ErrorCodeMessage[code]
		assert.True(t, hasMessage, "missing message for %s", code)
	}
	assert.Len(t, ErrorCodeMessage, len(ErrorCodeHTTPStatus))
}
