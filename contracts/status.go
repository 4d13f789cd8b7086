package contracts

import "fmt"

// Status classifies the outcome carried by a packet, using HTTP-like codes
type Status int

const (
	StatusOK                  Status = 200
	StatusCreated             Status = 201
	StatusAccepted            Status = 202
	StatusNoContent           Status = 204
	StatusBadRequest          Status = 400
	StatusUnauthorized        Status = 401
	StatusForbidden           Status = 403
	StatusNotFound            Status = 404
	StatusRequestTimeout      Status = 408
	StatusConflict            Status = 409
	StatusUnsupportedMedia    Status = 415
	StatusTooManyRequests     Status = 429
	StatusInternalServerError Status = 500
	StatusNotImplemented      Status = 501
	StatusServiceUnavailable  Status = 503
	StatusGatewayTimeout      Status = 504
)

var statusText = map[Status]string{
	StatusOK:                  "OK",
	StatusCreated:             "Created",
	StatusAccepted:            "Accepted",
	StatusNoContent:           "No Content",
	StatusBadRequest:          "Bad Request",
	StatusUnauthorized:        "Unauthorized",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusRequestTimeout:      "Request Timeout",
	StatusConflict:            "Conflict",
	StatusUnsupportedMedia:    "Unsupported Media Type",
	StatusTooManyRequests:     "Too Many Requests",
	StatusInternalServerError: "Internal Server Error",
	StatusNotImplemented:      "Not Implemented",
	StatusServiceUnavailable:  "Service Unavailable",
	StatusGatewayTimeout:      "Gateway Timeout",
}

// Code returns the numeric status code
func (s Status) Code() int {
	return int(s)
}

// String returns the code and its reason phrase
func (s Status) String() string {
	if text, ok := statusText[s]; ok {
		return fmt.Sprintf("%d %s", int(s), text)
	}
	return fmt.Sprintf("%d", int(s))
}

// IsSuccess reports whether the status is in the 2xx range
func (s Status) IsSuccess() bool {
	return s >= 200 && s < 300
}
