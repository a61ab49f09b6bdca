package http

import "fmt"

var ErrorGatewayDescriptionMap = map[int]string{
	100: "Request not supported",
	101: "Syntax error",
	102: "Request not processed due to internal state",
	103: "Driver not ready",
	600: "Running out of memory",
}

var (
	ErrGwRequestNotSupported = &GatewayError{Code: 100}
	ErrGwSyntaxError         = &GatewayError{Code: 101}
	ErrGwRequestNotProcessed = &GatewayError{Code: 102}
	ErrGwNotReady            = &GatewayError{Code: 103}
)

type GatewayError struct {
	Code int
}

func (e *GatewayError) Error() string {
	description, ok := ErrorGatewayDescriptionMap[e.Code]
	if !ok {
		return fmt.Sprintf("ERROR:%d", e.Code)
	}
	return fmt.Sprintf("ERROR:%d (%s)", e.Code, description)
}

func NewGatewayError(code int) error {
	return &GatewayError{Code: code}
}
