package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Code classifies a fetch failure for per-source diagnostics and
// cooldown decisions.
type Code string

const (
	CodeTimeout    Code = "TIMEOUT"
	CodeConnection Code = "CONNECTION_ERROR"
	CodeParse      Code = "PARSE_ERROR"
	CodeFetch      Code = "FETCH_ERROR"
)

// HTTPCode returns the classification code for an HTTP status, e.g.
// HTTP_403.
func HTTPCode(status int) Code {
	return Code("HTTP_" + strconv.Itoa(status))
}

// Error is a classified transport failure.
type Error struct {
	Code   Code
	Status int // non-zero for HTTP_<status> codes
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Code, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps a raw transport error to a Code. HTTP statuses are
// classified by the caller via HTTPCode since the response is still a
// valid result at that point.
func Classify(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return CodeTimeout
	}
	var operr *net.OpError
	if errors.As(err, &operr) {
		return CodeConnection
	}
	var dnserr *net.DNSError
	if errors.As(err, &dnserr) {
		return CodeConnection
	}
	return CodeFetch
}

// isTLSVerification reports whether err is a certificate problem worth
// one insecure retry.
func isTLSVerification(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return true
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return true
	}
	var invErr x509.CertificateInvalidError
	return errors.As(err, &invErr)
}
