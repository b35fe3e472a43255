package engine

import (
	"errors"

	"github.com/kozaktomas/face-retrieval/internal/dataset"
	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
	"github.com/kozaktomas/face-retrieval/internal/session"
)

// Wire error codes.
const (
	CodeInvalidRequest    = "InvalidRequest"
	CodeUnknownSession    = "UnknownSession"
	CodeNoFaceInROI       = "NoFaceInROI"
	CodeExtractionTimeout = "ExtractionTimeout"
	CodeEmptyInput        = "EmptyInput"
	CodeCorruptDataset    = "CorruptDataset"
	CodeNotReady          = "NotReady"
	CodeInternal          = "Internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{session.ErrInvalidRequest, CodeInvalidRequest},
	{session.ErrUnknownSession, CodeUnknownSession},
	{session.ErrNoFaceInROI, CodeNoFaceInROI},
	{session.ErrNotReady, CodeNotReady},
	{fingerprint.ErrExtractionTimeout, CodeExtractionTimeout},
	{fingerprint.ErrEmptyInput, CodeEmptyInput},
	{dataset.ErrCorruptDataset, CodeCorruptDataset},
}

// ErrorCode classifies err into a wire error code.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}

// NewErrorResponse builds the failure envelope for err.
func NewErrorResponse(err error) ErrorResponse {
	return ErrorResponse{Success: false, Error: ErrorCode(err), Message: err.Error()}
}
