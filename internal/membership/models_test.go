package membership_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lamport/internal/membership"
)

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   interface{ Validate() error }
		valid bool
	}{
		{name: "register", req: membership.RegisterRequest{Address: "0xabc", UserName: "alice"}, valid: true},
		{name: "register without address", req: membership.RegisterRequest{UserName: "alice"}},
		{name: "register with blank user name", req: membership.RegisterRequest{Address: "0xabc", UserName: "  "}},
		{name: "vote", req: membership.VoteRequest{LamportID: "1", VoteID: "v-1"}, valid: true},
		{name: "vote without id", req: membership.VoteRequest{LamportID: "1"}},
		{name: "vote without member", req: membership.VoteRequest{VoteID: "v-1"}},
		{
			name:  "proposal",
			req:   membership.ProposalRequest{LamportID: "1", Title: "Fund relays", Options: []string{"yes", "no"}},
			valid: true,
		},
		{
			name: "proposal with repeated options",
			req:  membership.ProposalRequest{LamportID: "1", Title: "Fund relays", Options: []string{"Yes", " yes", ""}},
		},
		{name: "proposal without title", req: membership.ProposalRequest{LamportID: "1", Options: []string{"a", "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, membership.ErrInvalidRequest)
		})
	}
}
