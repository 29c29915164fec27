package ai

import "fmt"

// InvalidFrameError reports a nil or empty input frame. It is the only
// failure Detect returns as an error.
type InvalidFrameError struct {
	Reason string
}

func (e *InvalidFrameError) Error() string {
	return "invalid frame: " + e.Reason
}

// EncodingError reports that the resized frame could not be encoded as JPEG.
type EncodingError struct {
	Cause error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode frame: %v", e.Cause)
}

func (e *EncodingError) Unwrap() error { return e.Cause }

// TransportError covers timeouts, refused connections and DNS failures.
type TransportError struct {
	Endpoint string
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("inference endpoint %s unreachable: %v", e.Endpoint, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ServerError is a non-200 answer from the inference endpoint.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("inference endpoint returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("inference endpoint returned %d", e.StatusCode)
}

// MalformedResponseError is a 200 answer whose body is not the expected JSON.
type MalformedResponseError struct {
	Cause error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed inference response: %v", e.Cause)
}

func (e *MalformedResponseError) Unwrap() error { return e.Cause }
