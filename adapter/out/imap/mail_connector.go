package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	"mail_worker/pkg/retry"
)

// DefaultTimeout applies to connect, read and write on every session.
const DefaultTimeout = 30 * time.Second

// DefaultIdleRefresh restarts IDLE well before the ~29 minute server limit.
const DefaultIdleRefresh = 25 * time.Minute

// Connector dials mailboxes. One Connector serves the whole process; each
// Dial produces an independently owned connection.
type Connector struct {
	timeout     time.Duration
	idleRefresh time.Duration
	parser      out.MailParser
}

var _ out.MailConnector = (*Connector)(nil)

// NewConnector creates a connector with the given socket timeout, IDLE
// refresh interval and message parser.
func NewConnector(timeout, idleRefresh time.Duration, parser out.MailParser) *Connector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if idleRefresh <= 0 {
		idleRefresh = DefaultIdleRefresh
	}
	return &Connector{timeout: timeout, idleRefresh: idleRefresh, parser: parser}
}

// Dial connects and authenticates. Transient faults are retried up to 3
// times; an authentication rejection fails fast with the server's text.
func (cn *Connector) Dial(ctx context.Context, params *out.ConnectionParams) (out.MailConnection, error) {
	var conn *connection
	err := retry.Do(ctx, retryConfig(), func() error {
		c, err := cn.dialOnce(params)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (cn *Connector) dialOnce(params *out.ConnectionParams) (*connection, error) {
	addr := fmt.Sprintf("%s:%d", params.Host, params.Port)
	dialer := &net.Dialer{Timeout: cn.timeout}
	tlsConfig := &tls.Config{ServerName: params.Host}

	var (
		c   *client.Client
		err error
	)
	switch params.Security {
	case domain.SecurityStartTLS:
		c, err = client.DialWithDialer(dialer, addr)
		if err == nil {
			err = c.StartTLS(tlsConfig)
		}
	case domain.SecurityNone:
		c, err = client.DialWithDialer(dialer, addr)
	default: // ssl
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	}
	if err != nil {
		if c != nil {
			c.Close()
		}
		return nil, wrapErr("connect", err, false)
	}
	c.Timeout = cn.timeout

	if err := cn.authenticate(c, params); err != nil {
		c.Close()
		return nil, err
	}

	return &connection{c: c, parser: cn.parser, timeout: cn.timeout, idleRefresh: cn.idleRefresh}, nil
}

func (cn *Connector) authenticate(c *client.Client, params *out.ConnectionParams) error {
	switch params.AuthMethod {
	case out.AuthMethodXOAuth2:
		err := c.Authenticate(newXOAuth2Client(params.Username, params.AccessToken))
		return wrapErr("authenticate", err, true)
	default:
		err := c.Login(params.Username, params.Password)
		return wrapErr("login", err, true)
	}
}
