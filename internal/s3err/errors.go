// Package s3err defines the closed set of S3-compatible error kinds this
// gateway can return, their wire codes, and their HTTP status mapping.
package s3err

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

// Error is a typed S3 API error: a stable wire code, a human message, and
// the HTTP status it maps to.
type Error struct {
	Code    string
	Message string
	Status  int

	// Detail is logged server-side (with a request ID) but never rendered
	// to the client. Only populated for InternalError.
	Detail error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Detail }

func newErr(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// The closed error taxonomy. Each is a fresh value per call so handlers can
// freely format messages without racing on a shared pointer.
var (
	ErrNoSuchBucket = func() *Error {
		return newErr("NoSuchBucket", "The specified bucket does not exist.", http.StatusNotFound)
	}
	ErrNoSuchKey = func() *Error {
		return newErr("NoSuchKey", "The specified key does not exist.", http.StatusNotFound)
	}
	ErrNoSuchUpload = func() *Error {
		return newErr("NoSuchUpload", "The specified multipart upload does not exist.", http.StatusNotFound)
	}
	ErrNoSuchLifecycleConfiguration = func() *Error {
		return newErr("NoSuchLifecycleConfiguration", "The lifecycle configuration does not exist.", http.StatusNotFound)
	}
	ErrNoSuchBucketPolicy = func() *Error {
		return newErr("NoSuchBucketPolicy", "The bucket policy does not exist.", http.StatusNotFound)
	}
	ErrNoSuchCORSConfiguration = func() *Error {
		return newErr("NoSuchCORSConfiguration", "The CORS configuration does not exist.", http.StatusNotFound)
	}
	ErrBucketAlreadyExists = func() *Error {
		return newErr("BucketAlreadyOwnedByYou", "The bucket you tried to create already exists.", http.StatusConflict)
	}
	ErrBucketNotEmpty = func() *Error {
		return newErr("BucketNotEmpty", "The bucket you tried to delete is not empty.", http.StatusConflict)
	}
	ErrAccessDenied = func() *Error {
		return newErr("AccessDenied", "Access Denied.", http.StatusForbidden)
	}
	ErrSignatureDoesNotMatch = func() *Error {
		return newErr("SignatureDoesNotMatch", "The request signature we calculated does not match the signature you provided.", http.StatusForbidden)
	}
	ErrInvalidPart = func() *Error {
		return newErr("InvalidPart", "One or more of the specified parts could not be found.", http.StatusBadRequest)
	}
	ErrInvalidPartOrder = func() *Error {
		return newErr("InvalidPartOrder", "The list of parts was not in ascending order.", http.StatusBadRequest)
	}
)

// InvalidArgument builds an InvalidArgument error with a caller-supplied
// message (the only error kind in the taxonomy that carries free text).
func InvalidArgument(msg string) *Error {
	return newErr("InvalidArgument", msg, http.StatusBadRequest)
}

// Internal builds an InternalError; detail is logged but never rendered.
func Internal(detail error) *Error {
	e := newErr("InternalError", "We encountered an internal error. Please try again.", http.StatusInternalServerError)
	e.Detail = detail
	return e
}

// xmlError is the wire shape rendered for every error response.
type xmlError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// WriteTo renders err as the standard S3 XML error body and sets the
// mapped HTTP status. If err is not an *Error it is wrapped as InternalError.
func WriteTo(w http.ResponseWriter, err error) {
	se, ok := err.(*Error)
	if !ok {
		se = Internal(err)
	}
	body, marshalErr := xml.Marshal(&xmlError{Code: se.Code, Message: se.Message})
	if marshalErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(se.Status)
	w.Write([]byte(xml.Header))
	w.Write(body)
}

// As reports whether err is an *Error with the given wire code.
func As(err error, code string) bool {
	se, ok := err.(*Error)
	return ok && se.Code == code
}
