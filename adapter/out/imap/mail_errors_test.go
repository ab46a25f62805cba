package imap

import (
	"errors"
	"testing"

	goimap "github.com/emersion/go-imap"
)

func TestXOAuth2Start(t *testing.T) {
	mech, ir, err := newXOAuth2Client("user@gmail.com", "ya29.token").Start()
	if err != nil {
		t.Fatal(err)
	}
	if mech != "XOAUTH2" {
		t.Errorf("mech = %s", mech)
	}
	want := "user=user@gmail.com\x01auth=Bearer ya29.token\x01\x01"
	if string(ir) != want {
		t.Errorf("initial response = %q, want %q", ir, want)
	}
}

func TestWrapErr_AuthRejection(t *testing.T) {
	status := &goimap.ErrStatusResp{Resp: &goimap.StatusResp{
		Type: goimap.StatusRespNo,
		Info: "[AUTHENTICATIONFAILED] Invalid credentials",
	}}

	err := wrapErr("login", status, true)
	if !IsAuthFailed(err) {
		t.Fatal("expected auth failure")
	}
	if got := AuthFailedText(err); got != "[AUTHENTICATIONFAILED] Invalid credentials" {
		t.Errorf("text = %q", got)
	}
}

func TestWrapErr_NonAuthOps(t *testing.T) {
	status := &goimap.ErrStatusResp{Resp: &goimap.StatusResp{
		Type: goimap.StatusRespNo,
		Info: "SELECT failed",
	}}

	if IsAuthFailed(wrapErr("select", status, false)) {
		t.Error("non-auth op must not classify as auth failure")
	}
	if IsAuthFailed(wrapErr("connect", errors.New("connection refused"), false)) {
		t.Error("network error must not classify as auth failure")
	}
}

func TestRetryConfig_NeverRetriesAuthFailure(t *testing.T) {
	cfg := retryConfig()

	authErr := &Error{Op: "login", AuthFailed: true, Text: "bad password"}
	if cfg.IsRetryable(authErr) {
		t.Error("auth failure must not be retryable")
	}
	if !cfg.IsRetryable(errors.New("read tcp: connection reset by peer")) {
		t.Error("transient network error must be retryable")
	}
	if cfg.IsRetryable(errors.New("imap select: BAD command")) {
		t.Error("protocol error must not be retryable")
	}
}
