package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition. Codes
// follow the "<MODULE>_<NNN>" convention.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Configuration error codes
const (
	ErrCodeConfigLoad    ErrorCode = "CONFIG_001"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_002"
)

// Instance module error codes
const (
	ErrCodeInstanceMalformed    ErrorCode = "INSTANCE_001"
	ErrCodeInstanceEmpty        ErrorCode = "INSTANCE_002"
	ErrCodeInstanceFileNotFound ErrorCode = "INSTANCE_003"
	ErrCodeTourInvalid          ErrorCode = "INSTANCE_004"
	ErrCodeScaleMismatch        ErrorCode = "INSTANCE_005"
)

// Sampling module error codes
const (
	ErrCodeSamplingParams ErrorCode = "SAMPLING_001"
	ErrCodeSamplingFailed ErrorCode = "SAMPLING_002"
)

// Model module error codes
const (
	ErrCodeModelConfigInvalid ErrorCode = "MODEL_001"
	ErrCodeModelLoadFailed    ErrorCode = "MODEL_002"
	ErrCodeModelNotLoaded     ErrorCode = "MODEL_003"
	ErrCodeWeightsMismatch    ErrorCode = "MODEL_004"
	ErrCodeInferenceFailed    ErrorCode = "MODEL_005"
)

// Heatmap module error codes
const (
	ErrCodeHeatmapShape     ErrorCode = "HEATMAP_001"
	ErrCodeHeatmapWrite     ErrorCode = "HEATMAP_002"
	ErrCodeHeatmapMalformed ErrorCode = "HEATMAP_003"
	ErrCodeBuildFailed      ErrorCode = "HEATMAP_004"
	ErrCodeBuildLocked      ErrorCode = "HEATMAP_005"
)

// Infrastructure error codes
const (
	ErrCodeStorage          ErrorCode = "STORAGE_001"
	ErrCodeArtifactNotFound ErrorCode = "STORAGE_002"
	ErrCodeDatabase         ErrorCode = "STORAGE_003"
	ErrCodeCache            ErrorCode = "STORAGE_004"
	ErrCodeCacheMiss        ErrorCode = "STORAGE_005"
	ErrCodeGraphStore       ErrorCode = "STORAGE_006"
	ErrCodeSearchIndex      ErrorCode = "STORAGE_007"
	ErrCodeMessaging        ErrorCode = "MESSAGING_001"
	ErrCodeMessageDecode    ErrorCode = "MESSAGING_002"
)

// Short aliases used at call sites.
const (
	CodeOK                 = ErrorCode("OK")
	CodeUnknown            = ErrorCode("UNKNOWN")
	CodeInternal           = ErrCodeInternal
	CodeInvalidParam       = ErrCodeBadRequest
	CodeNotFound           = ErrCodeNotFound
	CodeConflict           = ErrCodeConflict
	CodeServiceUnavailable = ErrCodeServiceUnavailable
	CodeTimeout            = ErrCodeTimeout
	CodeValidation         = ErrCodeValidation
	CodeSerialization      = ErrCodeSerialization
	CodeNotImplemented     = ErrCodeNotImplemented

	CodeConfigLoad    = ErrCodeConfigLoad
	CodeConfigInvalid = ErrCodeConfigInvalid

	CodeInstanceMalformed    = ErrCodeInstanceMalformed
	CodeInstanceEmpty        = ErrCodeInstanceEmpty
	CodeInstanceFileNotFound = ErrCodeInstanceFileNotFound
	CodeTourInvalid          = ErrCodeTourInvalid
	CodeScaleMismatch        = ErrCodeScaleMismatch

	CodeSamplingParams = ErrCodeSamplingParams
	CodeSamplingFailed = ErrCodeSamplingFailed

	CodeModelConfigInvalid = ErrCodeModelConfigInvalid
	CodeModelLoadFailed    = ErrCodeModelLoadFailed
	CodeModelNotLoaded     = ErrCodeModelNotLoaded
	CodeWeightsMismatch    = ErrCodeWeightsMismatch
	CodeInferenceFailed    = ErrCodeInferenceFailed

	CodeHeatmapShape     = ErrCodeHeatmapShape
	CodeHeatmapWrite     = ErrCodeHeatmapWrite
	CodeHeatmapMalformed = ErrCodeHeatmapMalformed
	CodeBuildFailed      = ErrCodeBuildFailed
	CodeBuildLocked      = ErrCodeBuildLocked

	CodeStorage          = ErrCodeStorage
	CodeArtifactNotFound = ErrCodeArtifactNotFound
	CodeDatabase         = ErrCodeDatabase
	CodeCache            = ErrCodeCache
	CodeCacheMiss        = ErrCodeCacheMiss
	CodeGraphStore       = ErrCodeGraphStore
	CodeSearchIndex      = ErrCodeSearchIndex
	CodeMessaging        = ErrCodeMessaging
	CodeMessageDecode    = ErrCodeMessageDecode
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusBadRequest,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeConfigLoad:    http.StatusInternalServerError,
	ErrCodeConfigInvalid: http.StatusInternalServerError,

	ErrCodeInstanceMalformed:    http.StatusBadRequest,
	ErrCodeInstanceEmpty:        http.StatusBadRequest,
	ErrCodeInstanceFileNotFound: http.StatusNotFound,
	ErrCodeTourInvalid:          http.StatusBadRequest,
	ErrCodeScaleMismatch:        http.StatusBadRequest,

	ErrCodeSamplingParams: http.StatusBadRequest,
	ErrCodeSamplingFailed: http.StatusInternalServerError,

	ErrCodeModelConfigInvalid: http.StatusInternalServerError,
	ErrCodeModelLoadFailed:    http.StatusInternalServerError,
	ErrCodeModelNotLoaded:     http.StatusServiceUnavailable,
	ErrCodeWeightsMismatch:    http.StatusInternalServerError,
	ErrCodeInferenceFailed:    http.StatusInternalServerError,

	ErrCodeHeatmapShape:     http.StatusInternalServerError,
	ErrCodeHeatmapWrite:     http.StatusInternalServerError,
	ErrCodeHeatmapMalformed: http.StatusBadRequest,
	ErrCodeBuildFailed:      http.StatusInternalServerError,
	ErrCodeBuildLocked:      http.StatusConflict,

	ErrCodeStorage:          http.StatusBadGateway,
	ErrCodeArtifactNotFound: http.StatusNotFound,
	ErrCodeDatabase:         http.StatusBadGateway,
	ErrCodeCache:            http.StatusBadGateway,
	ErrCodeCacheMiss:        http.StatusNotFound,
	ErrCodeGraphStore:       http.StatusBadGateway,
	ErrCodeSearchIndex:      http.StatusBadGateway,
	ErrCodeMessaging:        http.StatusBadGateway,
	ErrCodeMessageDecode:    http.StatusBadRequest,
}

// ErrorCodeMessage holds the default message per ErrorCode.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal error",
	ErrCodeBadRequest:         "invalid parameter",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "operation timed out",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeConfigLoad:    "configuration could not be loaded",
	ErrCodeConfigInvalid: "configuration is invalid",

	ErrCodeInstanceMalformed:    "instance line is malformed",
	ErrCodeInstanceEmpty:        "instance file holds no instances",
	ErrCodeInstanceFileNotFound: "instance file not found",
	ErrCodeTourInvalid:          "tour is not a closed permutation of the nodes",
	ErrCodeScaleMismatch:        "instance size differs from the requested scale",

	ErrCodeSamplingParams: "invalid sampling parameters",
	ErrCodeSamplingFailed: "cluster sampling failed",

	ErrCodeModelConfigInvalid: "model configuration is invalid",
	ErrCodeModelLoadFailed:    "model could not be loaded",
	ErrCodeModelNotLoaded:     "model is not loaded",
	ErrCodeWeightsMismatch:    "weights do not match the model configuration",
	ErrCodeInferenceFailed:    "inference failed",

	ErrCodeHeatmapShape:     "heatmap shape mismatch",
	ErrCodeHeatmapWrite:     "heatmap could not be written",
	ErrCodeHeatmapMalformed: "heatmap file is malformed",
	ErrCodeBuildFailed:      "heatmap build failed",
	ErrCodeBuildLocked:      "heatmap build already in progress",

	ErrCodeStorage:          "object storage failure",
	ErrCodeArtifactNotFound: "artifact not found",
	ErrCodeDatabase:         "database failure",
	ErrCodeCache:            "cache failure",
	ErrCodeCacheMiss:        "cache miss",
	ErrCodeGraphStore:       "graph store failure",
	ErrCodeSearchIndex:      "search index failure",
	ErrCodeMessaging:        "messaging failure",
	ErrCodeMessageDecode:    "message could not be decoded",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
