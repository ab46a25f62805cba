// Package imap wraps a single IMAP connection with timeouts, transient
// retry, XOAUTH2 authentication and IDLE listening.
package imap

import (
	"errors"
	"fmt"

	goimap "github.com/emersion/go-imap"

	"mail_worker/pkg/apperr"
	"mail_worker/pkg/retry"
)

// Error is the connector's typed failure. Text carries the server's
// human-readable response when one exists.
type Error struct {
	Op         string
	AuthFailed bool
	Code       string
	Text       string
	Err        error
}

func (e *Error) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("imap %s: %s", e.Op, e.Text)
	}
	if e.Err != nil {
		return fmt.Sprintf("imap %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("imap %s failed", e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsAuthFailed reports whether err is a mailbox authentication rejection.
func IsAuthFailed(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.AuthFailed
}

// AuthFailedText returns the server text of an authentication rejection.
func AuthFailedText(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) && cerr.AuthFailed {
		return cerr.Text
	}
	return ""
}

// wrapErr classifies a raw client error. Auth rejections come back as NO
// status responses from LOGIN or AUTHENTICATE and surface as coded
// apperr.AuthFailed errors wrapping the connector Error.
func wrapErr(op string, err error, auth bool) error {
	if err == nil {
		return nil
	}

	e := &Error{Op: op, Err: err}
	var status *goimap.ErrStatusResp
	if errors.As(err, &status) && status.Resp != nil {
		e.Code = string(status.Resp.Code)
		e.Text = status.Resp.Info
		if auth && status.Resp.Type == goimap.StatusRespNo {
			e.AuthFailed = true
			return apperr.AuthFailed(e.Text).WithError(e)
		}
	} else if auth {
		// Some servers drop the connection instead of answering NO; that is
		// a network fault, not a rejection.
		e.Text = err.Error()
	}
	return e
}

// retryConfig never retries auth rejections, only transient network faults.
func retryConfig() *retry.Config {
	cfg := retry.DefaultConfig()
	cfg.IsRetryable = func(err error) bool {
		if IsAuthFailed(err) {
			return false
		}
		return retry.IsTransient(err)
	}
	return cfg
}
