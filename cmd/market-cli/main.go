package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"jobmarket/cmd/internal/passphrase"
	"jobmarket/crypto"
	"jobmarket/native/market"
	"jobmarket/rpc"
)

const passphraseEnv = "MARKET_KEYSTORE_PASS"

// cli carries the resolved profile and output streams for one invocation.
type cli struct {
	stdout      io.Writer
	stderr      io.Writer
	profilePath string
	profile     *Profile
	timeout     time.Duration
	// passphrases returns the keystore passphrase source. confirm is set when a
	// new keystore is being written.
	passphrases func(confirm bool) *passphrase.Source
}

func main() {
	c := &cli{
		stdout: os.Stdout,
		stderr: os.Stderr,
		passphrases: func(confirm bool) *passphrase.Source {
			if confirm {
				return passphrase.NewSource(passphraseEnv, passphrase.WithConfirmation())
			}
			return passphrase.NewSource(passphraseEnv)
		},
	}
	os.Exit(c.run(os.Args[1:]))
}

func (c *cli) run(args []string) int {
	fs := flag.NewFlagSet("market-cli", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	profilePath := fs.String("profile", defaultProfilePath(), "path to the CLI profile")
	endpoint := fs.String("rpc", "", "JSON-RPC endpoint (overrides the profile)")
	keystore := fs.String("keystore", "", "keystore path (overrides the profile)")
	timeout := fs.Duration("timeout", 15*time.Second, "per-command RPC timeout")
	fs.Usage = func() { fmt.Fprintln(c.stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return 1
	}

	profile, err := loadProfile(*profilePath)
	if err != nil {
		return c.fail(err)
	}
	if strings.TrimSpace(*endpoint) != "" && *endpoint != profile.Endpoint {
		profile.Endpoint = *endpoint
		// A token is only valid for the node that issued it.
		profile.Token = ""
	}
	if strings.TrimSpace(*keystore) != "" {
		profile.Keystore = *keystore
	}
	c.profilePath = *profilePath
	c.profile = profile
	c.timeout = *timeout

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
	switch rest[0] {
	case "key":
		return c.runKey(rest[1:])
	case "login":
		return c.runLogin(rest[1:])
	case "job":
		return c.runJob(rest[1:])
	case "balance":
		return c.runBalance(rest[1:])
	case "events":
		return c.runEvents(rest[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(c.stdout, usage())
		return 0
	default:
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: market-cli [--profile path] [--rpc url] [--keystore path] <command>",
		"",
		"Commands:",
		"  key new [--force]                  create an encrypted keystore",
		"  key show                           print the keystore address",
		"  login                              sign in and store a session token",
		"  job post --description d --budget n",
		"  job get <id>",
		"  job list [--offset n] [--limit n]",
		"  job bids <id>",
		"  job bid <id> --amount n",
		"  job select <id> --bid index",
		"  job complete <id>",
		"  job verify <id>",
		"  job export [--format csv|jsonl] [--out file]",
		"  balance [address] [--vault]",
		"  events [--after seq] [--limit n] [--job id]",
		"",
		"Amounts are decimal display units unless --raw is given.",
		"Set " + passphraseEnv + " to skip the passphrase prompt.",
	}, "\n")
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func (c *cli) failf(format string, args ...interface{}) int {
	return c.fail(fmt.Errorf(format, args...))
}

func (c *cli) context() (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *cli) client() *rpc.Client {
	return rpc.NewClient(c.profile.Endpoint, rpc.WithToken(c.profile.Token))
}

// authedClient returns a client carrying the stored session token.
func (c *cli) authedClient() (*rpc.Client, error) {
	if strings.TrimSpace(c.profile.Token) == "" {
		return nil, fmt.Errorf("not logged in; run market-cli login")
	}
	return c.client(), nil
}

func (c *cli) loadKey() (*crypto.PrivateKey, error) {
	pass, err := c.passphrases(false).Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(c.profile.Keystore, pass)
}

func (c *cli) printJSON(v interface{}) int {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, string(out))
	return 0
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseFlags parses args allowing flags after positional arguments, so both
// "job bid 3 --amount 1" and "job bid --amount 1 3" work.
func parseFlags(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func parseJobID(args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one job id")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid job id %q", args[0])
	}
	return id, nil
}

// parseAmount reads display units, or smallest units when raw is set.
func parseAmount(value string, raw bool) (*big.Int, error) {
	if !raw {
		return market.ParseUnits(value)
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", market.ErrInvalidAmount, value)
	}
	if err := market.CheckAmount(amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func displayAmount(raw string) string {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return market.FormatUnits(v)
}
