package errors

import (
	"context"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var httpToGRPC = map[int]codes.Code{
	http.StatusBadRequest:          codes.InvalidArgument,
	http.StatusUnprocessableEntity: codes.InvalidArgument,
	http.StatusNotFound:            codes.NotFound,
	http.StatusConflict:            codes.Aborted,
	http.StatusNotImplemented:      codes.Unimplemented,
	http.StatusBadGateway:          codes.Unavailable,
	http.StatusServiceUnavailable:  codes.Unavailable,
	http.StatusGatewayTimeout:      codes.DeadlineExceeded,
}

// GRPCCodeFor maps err to a gRPC status code. Context errors keep their
// meaning; application errors go through their HTTP status.
func GRPCCodeFor(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case Is(err, context.Canceled):
		return codes.Canceled
	case Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	if _, ok := status.FromError(err); ok {
		return status.Code(err)
	}
	code := GetCode(err)
	if code == CodeUnknown {
		return codes.Unknown
	}
	if c, ok := httpToGRPC[HTTPStatusForCode(code)]; ok {
		return c
	}
	return codes.Internal
}

// GRPCStatus converts err into a status error carrying its code and message.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(GRPCCodeFor(err), err.Error())
}
