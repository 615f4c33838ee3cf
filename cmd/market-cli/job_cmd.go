package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"jobmarket/integrations/exports"
	"jobmarket/native/market"
	"jobmarket/rpc"
)

const exportPageSize = market.MaxListLimit

func (c *cli) runJob(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, "Usage: market-cli job post|get|list|bids|bid|select|complete|verify|export")
		return 1
	}
	switch args[0] {
	case "post":
		return c.runJobPost(args[1:])
	case "get":
		return c.runJobGet(args[1:])
	case "list":
		return c.runJobList(args[1:])
	case "bids":
		return c.runJobBids(args[1:])
	case "bid":
		return c.runJobBid(args[1:])
	case "select":
		return c.runJobSelect(args[1:])
	case "complete":
		return c.runJobComplete(args[1:])
	case "verify":
		return c.runJobVerify(args[1:])
	case "export":
		return c.runJobExport(args[1:])
	default:
		fmt.Fprintf(c.stderr, "Unknown job subcommand: %s\n", args[0])
		return 1
	}
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func (c *cli) printReceipt(receipt *rpc.ReceiptJSON) int {
	fmt.Fprintf(c.stdout, "%s job %d\nreceipt %s\n", receipt.Operation, receipt.JobID, receipt.ReceiptHash)
	if s := receipt.Settlement; s != nil {
		fmt.Fprintf(c.stdout, "paid %s to %s, refunded %s to %s\n",
			displayAmount(s.Payout), s.Winner, displayAmount(s.Refund), s.Employer)
	}
	return 0
}

func (c *cli) runJobPost(args []string) int {
	fs := newFlagSet("job post", c.stderr)
	description := fs.String("description", "", "job description")
	budget := fs.String("budget", "", "budget escrowed from your balance")
	raw := fs.Bool("raw", false, "budget is in the smallest unit")
	if rest, err := parseFlags(fs, args); err != nil {
		return 1
	} else if len(rest) > 0 {
		return c.failf("unexpected arguments %v", rest)
	}
	if strings.TrimSpace(*description) == "" {
		return c.failf("--description is required")
	}
	if *budget == "" {
		return c.failf("--budget is required")
	}
	value, err := parseAmount(*budget, *raw)
	if err != nil {
		return c.fail(err)
	}
	client, err := c.authedClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	receipt, err := client.PostJob(ctx, *description, value)
	if err != nil {
		return c.fail(err)
	}
	return c.printReceipt(receipt)
}

func (c *cli) runJobGet(args []string) int {
	id, err := parseJobID(args)
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	job, err := c.client().Job(ctx, id)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(job)
}

func (c *cli) runJobList(args []string) int {
	fs := newFlagSet("job list", c.stderr)
	offset := fs.Uint64("offset", 0, "list jobs with ids above this value")
	limit := fs.Int("limit", market.DefaultListLimit, "maximum number of jobs")
	if rest, err := parseFlags(fs, args); err != nil {
		return 1
	} else if len(rest) > 0 {
		return c.failf("unexpected arguments %v", rest)
	}
	ctx, cancel := c.context()
	defer cancel()
	jobs, err := c.client().ListJobs(ctx, *offset, *limit)
	if err != nil {
		return c.fail(err)
	}
	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tBUDGET\tLOWEST\tBIDS\tDESCRIPTION")
	for _, job := range jobs {
		lowest := "-"
		if len(job.Bids) > 0 {
			lowest = displayAmount(job.CurrentBid)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			job.ID, job.Status, displayAmount(job.Budget), lowest, len(job.Bids), truncate(job.Description, 48))
	}
	if err := w.Flush(); err != nil {
		return c.fail(err)
	}
	return 0
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func (c *cli) runJobBids(args []string) int {
	id, err := parseJobID(args)
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	bids, err := c.client().GetBids(ctx, id)
	if err != nil {
		return c.fail(err)
	}
	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tFREELANCER\tAMOUNT\tPLACED")
	for _, bid := range bids {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", bid.Index, bid.Freelancer, displayAmount(bid.Amount), formatUnix(bid.PlacedAt))
	}
	if err := w.Flush(); err != nil {
		return c.fail(err)
	}
	return 0
}

func (c *cli) runJobBid(args []string) int {
	fs := newFlagSet("job bid", c.stderr)
	amount := fs.String("amount", "", "bid amount, lower than the current lowest bid")
	raw := fs.Bool("raw", false, "amount is in the smallest unit")
	rest, err := parseFlags(fs, args)
	if err != nil {
		return 1
	}
	id, err := parseJobID(rest)
	if err != nil {
		return c.fail(err)
	}
	if *amount == "" {
		return c.failf("--amount is required")
	}
	value, err := parseAmount(*amount, *raw)
	if err != nil {
		return c.fail(err)
	}
	client, err := c.authedClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	receipt, err := client.PlaceBid(ctx, id, value)
	if err != nil {
		return c.fail(err)
	}
	return c.printReceipt(receipt)
}

func (c *cli) runJobSelect(args []string) int {
	fs := newFlagSet("job select", c.stderr)
	index := fs.Int("bid", -1, "index of the bid to accept; must be the lowest")
	rest, err := parseFlags(fs, args)
	if err != nil {
		return 1
	}
	id, err := parseJobID(rest)
	if err != nil {
		return c.fail(err)
	}
	if *index < 0 {
		return c.failf("--bid is required")
	}
	client, err := c.authedClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	receipt, err := client.SelectWinner(ctx, id, *index)
	if err != nil {
		return c.fail(err)
	}
	return c.printReceipt(receipt)
}

func (c *cli) runJobComplete(args []string) int {
	id, err := parseJobID(args)
	if err != nil {
		return c.fail(err)
	}
	client, err := c.authedClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	receipt, err := client.CompleteJob(ctx, id)
	if err != nil {
		return c.fail(err)
	}
	return c.printReceipt(receipt)
}

func (c *cli) runJobVerify(args []string) int {
	id, err := parseJobID(args)
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	verdict, err := c.client().VerifyJob(ctx, id)
	if err != nil {
		return c.fail(err)
	}
	if verdict.Valid {
		fmt.Fprintf(c.stdout, "job %d: eligible for completion\n", id)
		return 0
	}
	fmt.Fprintf(c.stdout, "job %d: not eligible: %s\n", id, verdict.Reason)
	return 2
}

func (c *cli) runJobExport(args []string) int {
	fs := newFlagSet("job export", c.stderr)
	format := fs.String("format", "csv", "csv or jsonl")
	out := fs.String("out", "", "output file (default stdout)")
	if rest, err := parseFlags(fs, args); err != nil {
		return 1
	} else if len(rest) > 0 {
		return c.failf("unexpected arguments %v", rest)
	}
	encode := exports.JobsCSV
	switch strings.ToLower(*format) {
	case "csv":
	case "jsonl":
		encode = exports.JobsJSONL
	default:
		return c.failf("unsupported format %q", *format)
	}

	ctx, cancel := c.context()
	defer cancel()
	client := c.client()
	var jobs []*market.Job
	var offset uint64
	for {
		page, err := client.ListJobs(ctx, offset, exportPageSize)
		if err != nil {
			return c.fail(err)
		}
		for _, wire := range page {
			job, err := wire.Job()
			if err != nil {
				return c.fail(err)
			}
			jobs = append(jobs, job)
			offset = wire.ID
		}
		if len(page) < exportPageSize {
			break
		}
	}

	data, checksum, err := encode(jobs)
	if err != nil {
		return c.fail(err)
	}
	if *out == "" {
		if _, err := c.stdout.Write(data); err != nil {
			return c.fail(err)
		}
	} else if err := os.WriteFile(*out, data, 0o644); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stderr, "exported %d jobs, sha256 %s\n", len(jobs), checksum)
	return 0
}
