package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"lamport/internal/membership"
	"lamport/internal/timeline"
)

var errUsage = errors.New("usage: lamportctl <register|member|points|bind|vote|propose|timeline|seed|sweep> [flags]")

type members interface {
	Register(ctx context.Context, req membership.RegisterRequest) (*membership.RegisterResult, error)
	Member(ctx context.Context, lamportID string) (*membership.Member, error)
	Points(ctx context.Context, lamportID string) (*membership.Stats, error)
	BindAccount(ctx context.Context, lamportID, platform, handle string) error
	CastVote(ctx context.Context, req membership.VoteRequest) error
	CreateProposal(ctx context.Context, req membership.ProposalRequest) error
}

type timelines interface {
	ListBySubject(ctx context.Context, subjectID string, page timeline.Page) ([]*timeline.Record, error)
}

type operator interface {
	Seed(ctx context.Context, start int64) (bool, error)
	Sweep(ctx context.Context) (int64, error)
}

// cli dispatches one subcommand and prints its result as JSON.
type cli struct {
	members   members
	timeline  timelines
	ops       operator
	seedValue int64
	out       io.Writer
}

func (c *cli) execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	switch cmd {
	case "register":
		var req membership.RegisterRequest
		fs.StringVar(&req.Address, "address", "", "wallet address")
		fs.StringVar(&req.Name, "name", "", "display name")
		fs.StringVar(&req.UserName, "user-name", "", "twitter user name")
		fs.StringVar(&req.InvitedBy, "invited-by", "", "inviter's invite code")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		res, err := c.members.Register(ctx, req)
		if err != nil {
			return err
		}
		return c.print(res)

	case "member", "points", "timeline":
		id := fs.String("id", "", "lamport id")
		offset := fs.Int("offset", 0, "timeline offset")
		limit := fs.Int("limit", timeline.DefaultLimit, "timeline page size")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *id == "" {
			return fmt.Errorf("%s: --id is required", cmd)
		}
		switch cmd {
		case "member":
			return c.printResult(c.members.Member(ctx, *id))
		case "points":
			return c.printResult(c.members.Points(ctx, *id))
		}
		records, err := c.timeline.ListBySubject(ctx, *id, timeline.Page{Offset: *offset, Limit: *limit})
		if err != nil {
			return err
		}
		return c.print(records)

	case "bind":
		id := fs.String("id", "", "lamport id")
		platform := fs.String("platform", "twitter", "platform of the bound account")
		handle := fs.String("handle", "", "account handle on the platform")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if err := c.members.BindAccount(ctx, *id, *platform, *handle); err != nil {
			return err
		}
		return c.print(map[string]bool{"bound": true})

	case "vote":
		var req membership.VoteRequest
		fs.StringVar(&req.LamportID, "id", "", "lamport id")
		fs.StringVar(&req.VoteID, "vote-id", "", "vote id")
		fs.StringVar(&req.Title, "title", "", "vote title")
		fs.StringVar(&req.Content, "content", "", "chosen option")
		fs.StringVar(&req.StartTime, "start", "", "vote start time")
		fs.StringVar(&req.EndTime, "end", "", "vote end time")
		fs.StringVar(&req.Options, "options", "", "vote options")
		fs.StringVar(&req.Sig, "sig", "", "voter signature")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if err := c.members.CastVote(ctx, req); err != nil {
			return err
		}
		return c.print(map[string]bool{"voted": true})

	case "propose":
		var req membership.ProposalRequest
		fs.StringVar(&req.LamportID, "id", "", "lamport id")
		fs.StringVar(&req.Title, "title", "", "proposal title")
		fs.StringVar(&req.Description, "description", "", "proposal description")
		options := fs.String("options", "", "comma separated options")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		req.Options = strings.Split(*options, ",")
		if err := c.members.CreateProposal(ctx, req); err != nil {
			return err
		}
		return c.print(map[string]bool{"proposed": true})

	case "seed":
		start := fs.Int64("start", c.seedValue, "initial counter value")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		created, err := c.ops.Seed(ctx, *start)
		if err != nil {
			return err
		}
		return c.print(map[string]bool{"created": created})

	case "sweep":
		n, err := c.ops.Sweep(ctx)
		if err != nil {
			return err
		}
		return c.print(map[string]int64{"purged": n})
	}
	return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
}

func (c *cli) printResult(v any, err error) error {
	if err != nil {
		return err
	}
	return c.print(v)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
