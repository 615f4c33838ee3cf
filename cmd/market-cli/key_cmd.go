package main

import (
	"errors"
	"fmt"
	"os"

	"jobmarket/crypto"
)

func (c *cli) runKey(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, "Usage: market-cli key new|show")
		return 1
	}
	switch args[0] {
	case "new":
		return c.runKeyNew(args[1:])
	case "show":
		return c.runKeyShow(args[1:])
	default:
		fmt.Fprintf(c.stderr, "Unknown key subcommand: %s\n", args[0])
		return 1
	}
}

func (c *cli) runKeyNew(args []string) int {
	fs := newFlagSet("key new", c.stderr)
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if rest, err := parseFlags(fs, args); err != nil {
		return 1
	} else if len(rest) > 0 {
		return c.failf("unexpected arguments %v", rest)
	}

	path := c.profile.Keystore
	if _, err := os.Stat(path); err == nil && !*force {
		return c.failf("keystore %s already exists; pass --force to replace it", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return c.fail(err)
	}
	pass, err := c.passphrases(true).Get()
	if err != nil {
		return c.fail(err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail(err)
	}
	if err := crypto.SaveToKeystore(path, key, pass); err != nil {
		return c.fail(err)
	}
	c.profile.Token = ""
	if err := c.profile.save(c.profilePath); err != nil {
		return c.fail(err)
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(c.stdout, "Address: %s\nBech32:  %s\nKeystore: %s\n", addr.Hex(), addr.String(), path)
	return 0
}

func (c *cli) runKeyShow(args []string) int {
	if len(args) > 0 {
		return c.failf("unexpected arguments %v", args)
	}
	key, err := c.loadKey()
	if err != nil {
		return c.fail(err)
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(c.stdout, "Address: %s\nBech32:  %s\n", addr.Hex(), addr.String())
	return 0
}

func (c *cli) runLogin(args []string) int {
	if len(args) > 0 {
		return c.failf("unexpected arguments %v", args)
	}
	key, err := c.loadKey()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	client := c.client()
	session, err := client.Login(ctx, key)
	if err != nil {
		return c.fail(err)
	}
	c.profile.Token = session.Token
	if err := c.profile.save(c.profilePath); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "Logged in as %s until %s\n", session.Address, formatUnix(session.ExpiresAt))
	return 0
}
