package imap

import "github.com/emersion/go-sasl"

// xoauth2Client implements the XOAUTH2 SASL mechanism used by Gmail and
// Outlook: a bearer access token in the initial response.
type xoauth2Client struct {
	username string
	token    string
}

var _ sasl.Client = (*xoauth2Client)(nil)

func newXOAuth2Client(username, token string) *xoauth2Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", ir, nil
}

// Next handles the error challenge: the server sends a JSON blob and expects
// an empty response before issuing its final NO.
func (c *xoauth2Client) Next(_ []byte) ([]byte, error) {
	return []byte{}, nil
}
