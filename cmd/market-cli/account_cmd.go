package main

import (
	"fmt"
	"math/big"

	"jobmarket/crypto"
)

func (c *cli) runBalance(args []string) int {
	fs := newFlagSet("balance", c.stderr)
	vault := fs.Bool("vault", false, "show the value held in escrow")
	rest, err := parseFlags(fs, args)
	if err != nil {
		return 1
	}
	if len(rest) > 1 {
		return c.failf("expected at most one address")
	}
	ctx, cancel := c.context()
	defer cancel()
	client := c.client()

	var (
		label   string
		balance *big.Int
	)
	switch {
	case *vault:
		label = "vault"
		balance, err = client.VaultBalance(ctx)
	case len(rest) == 1:
		addr, perr := crypto.ParseAddress(rest[0])
		if perr != nil {
			return c.fail(perr)
		}
		label = crypto.FormatHex(addr)
		balance, err = client.Balance(ctx, addr)
	default:
		key, kerr := c.loadKey()
		if kerr != nil {
			return c.fail(kerr)
		}
		addr := key.PubKey().Address().Bytes()
		label = crypto.FormatHex(addr)
		balance, err = client.Balance(ctx, addr)
	}
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "%s: %s (%s)\n", label, displayAmount(balance.String()), balance.String())
	return 0
}

func (c *cli) runEvents(args []string) int {
	fs := newFlagSet("events", c.stderr)
	after := fs.Uint64("after", 0, "only records with a higher sequence number")
	limit := fs.Int("limit", 50, "maximum number of records")
	jobID := fs.Uint64("job", 0, "only records for this job")
	if rest, err := parseFlags(fs, args); err != nil {
		return 1
	} else if len(rest) > 0 {
		return c.failf("unexpected arguments %v", rest)
	}
	ctx, cancel := c.context()
	defer cancel()
	records, err := c.client().ListEvents(ctx, *after, *limit, *jobID)
	if err != nil {
		return c.fail(err)
	}
	for _, rec := range records {
		fmt.Fprintf(c.stdout, "%d\t%s\tjob=%d\t%s\n", rec.Seq, rec.Type, rec.JobID, formatUnix(rec.CreatedAt))
	}
	return 0
}
