package service

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"syscall"

	"google.golang.org/api/googleapi"
)

type temporaryError struct{ error }

func (e temporaryError) Temporary() bool { return true }
func (e *temporaryError) Unwrap() error  { return e.error }

// MakeTemporary marks the error as transient (safe to rerun)
func MakeTemporary(err error) error { return &temporaryError{err} }

type fatalError struct{ error }

func (e fatalError) Fatal() bool    { return true }
func (e *fatalError) Unwrap() error { return e.error }

// MakeFatal marks the error as fatal (rerunning cannot help)
func MakeFatal(err error) error { return &fatalError{err} }

// Temporary inspects the error trace and returns whether the error is transient
func Temporary(err error) bool {
	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EIO, syscall.EBUSY, syscall.ECANCELED, syscall.ECONNABORTED, syscall.ECONNRESET, syscall.ENOMEM, syscall.EPIPE:
			return true
		}
	}

	var tmp interface{ Temporary() bool }
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	var gapiErr *googleapi.Error
	if errors.As(err, &gapiErr) {
		return gapiErr.Code == 429 || gapiErr.Code == 500
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Fatal inspects the error trace and returns whether the error is fatal
func Fatal(err error) bool {
	var f interface{ Fatal() bool }
	if errors.As(err, &f) {
		return f.Fatal()
	}
	return false
}

// MergeErrors, appending texts
// if priorityToError is true, priority to the fatal error then to the temporary
// else, priority to no error, then to the temporary and finally to the fatal error.
func MergeErrors(priorityToError bool, err error, newErrs ...error) error {
	if len(newErrs) == 0 {
		return err
	}
	newErr := newErrs[0]

	if newErr == nil {
		if !priorityToError {
			return nil
		}
	} else if err == nil {
		err = newErr
	} else if priorityToError != Temporary(err) {
		err = fmt.Errorf("%w\n %v", err, newErr)
	} else {
		err = fmt.Errorf("%w\n %v", newErr, err)
	}
	return MergeErrors(priorityToError, err, newErrs[1:]...)
}
