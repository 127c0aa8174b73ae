package external

import "github.com/mrz1836/postmark"

// NewPostmarkClient returns a client for the transactional email relay
func NewPostmarkClient(serverToken string) *postmark.Client {
	return postmark.NewClient(serverToken, "")
}
