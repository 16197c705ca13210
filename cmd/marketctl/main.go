// Command marketctl is a command-line client for the parimutuel daemon. It
// signs write requests with the caller's key and can also generate and
// encrypt keys.
//
// Usage:
//
//	marketctl [global flags] <command> [args]
//
// Commands:
//
//	keygen                          print a new key and its address
//	encrypt-key -out FILE           write the key to a password-encrypted file
//	whoami                          print the address of the configured key
//	list [-status S]                list markets (all, active, awaiting, resolved)
//	show ID                         market summary
//	history ID                      odds after every stake
//	position ID [ADDRESS]           stakes and claimable winnings
//	create -q QUESTION -d DURATION  open a market resolved by you
//	approve ID [AMOUNT|max]         let market ID's escrow pull your tokens
//	stake ID yes|no AMOUNT          back a side
//	resolve ID yes|no               settle a market you created
//	withdraw ID                     collect winnings
//	faucet                          mint test tokens
//	balance [-market ID] [ADDRESS]  token balance and escrow allowance
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/crypto"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "marketctl: %v\n", err)
		os.Exit(1)
	}
}

type globals struct {
	api         string
	key         string
	keyFile     string
	keyPassword string
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("marketctl", flag.ContinueOnError)
	g := globals{}
	fs.StringVar(&g.api, "api", envOr("MARKETCTL_API", "http://localhost:8000"), "daemon base URL")
	fs.StringVar(&g.key, "key", os.Getenv("MARKETCTL_KEY"), "hex private key")
	fs.StringVar(&g.keyFile, "key-file", os.Getenv("MARKETCTL_KEY_FILE"), "encrypted key file")
	fs.StringVar(&g.keyPassword, "key-password", os.Getenv("MARKETCTL_KEY_PASSWORD"), "password for -key-file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "keygen":
		return keygen(out)
	case "encrypt-key":
		return encryptKey(g, rest, out)
	}

	signer, err := loadSigner(g)
	if err != nil {
		return err
	}
	c := newClient(g.api, signer)

	switch cmd {
	case "whoami":
		if signer == nil {
			return errNoKey
		}
		_, err := fmt.Fprintln(out, signer.Address().Hex())
		return err
	case "list":
		return list(ctx, c, rest, out)
	case "show":
		return get(ctx, c, rest, out, "/api/markets/%d")
	case "history":
		return get(ctx, c, rest, out, "/api/markets/%d/history")
	case "position":
		return position(ctx, c, rest, out)
	case "create":
		return create(ctx, c, rest, out)
	case "approve":
		return approve(ctx, c, rest, out)
	case "stake":
		return stake(ctx, c, rest, out)
	case "resolve":
		return resolve(ctx, c, rest, out)
	case "withdraw":
		id, err := marketArg(rest, 1)
		if err != nil {
			return err
		}
		return call(ctx, c, http.MethodPost, fmt.Sprintf("/api/markets/%d/withdraw", id), nil, out)
	case "faucet":
		return call(ctx, c, http.MethodPost, "/api/token/faucet", nil, out)
	case "balance":
		return balance(ctx, c, rest, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadSigner returns nil without error when no key is configured, so read
// commands still work.
func loadSigner(g globals) (*crypto.Signer, error) {
	if g.key == "" && g.keyFile == "" {
		return nil, nil
	}
	return crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    g.key,
		EncryptedKeyPath: g.keyFile,
		KeyPassword:      g.keyPassword,
	})
}

// call sends the request and pretty-prints the JSON response.
func call(ctx context.Context, c *client, method, path string, body any, out io.Writer) error {
	var resp json.RawMessage
	if err := c.do(ctx, method, path, body, &resp); err != nil {
		return err
	}
	return printJSON(out, resp)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// marketArg parses args[0] as a market id and checks that exactly n
// positional args were given.
func marketArg(args []string, n int) (uint64, error) {
	if len(args) != n {
		return 0, fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid market id %q", args[0])
	}
	return id, nil
}

func keygen(out io.Writer) error {
	s, err := crypto.GenerateSigner()
	if err != nil {
		return err
	}
	return printJSON(out, map[string]string{
		"address":     s.Address().Hex(),
		"private_key": s.PrivateKeyHex(),
	})
}

func encryptKey(g globals, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	path := fs.String("out", "", "file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" || g.key == "" || g.keyPassword == "" {
		return errors.New("encrypt-key needs -out, -key and -key-password")
	}
	signer, err := crypto.NewSigner(g.key)
	if err != nil {
		return err
	}
	data, err := crypto.EncryptKey(g.key, g.keyPassword)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*path, data, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	_, err = fmt.Fprintf(out, "wrote %s for %s\n", *path, signer.Address().Hex())
	return err
}

func list(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	status := fs.String("status", "", "all, active, awaiting or resolved")
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "page offset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q := url.Values{}
	if *status != "" {
		q.Set("status", *status)
	}
	q.Set("limit", strconv.Itoa(*limit))
	q.Set("offset", strconv.Itoa(*offset))
	return call(ctx, c, http.MethodGet, "/api/markets?"+q.Encode(), nil, out)
}

func get(ctx context.Context, c *client, args []string, out io.Writer, pathFmt string) error {
	id, err := marketArg(args, 1)
	if err != nil {
		return err
	}
	return call(ctx, c, http.MethodGet, fmt.Sprintf(pathFmt, id), nil, out)
}

// accountArg returns args[0] as an address, or the signer's own address.
func accountArg(c *client, args []string) (common.Address, error) {
	if len(args) > 0 {
		if !common.IsHexAddress(args[0]) {
			return common.Address{}, fmt.Errorf("invalid address %q", args[0])
		}
		return common.HexToAddress(args[0]), nil
	}
	if c.signer == nil {
		return common.Address{}, errNoKey
	}
	return c.signer.Address(), nil
}

func position(ctx context.Context, c *client, args []string, out io.Writer) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: position ID [ADDRESS]")
	}
	id, err := marketArg(args[:1], 1)
	if err != nil {
		return err
	}
	account, err := accountArg(c, args[1:])
	if err != nil {
		return err
	}
	return call(ctx, c, http.MethodGet, fmt.Sprintf("/api/markets/%d/positions/%s", id, account.Hex()), nil, out)
}

func create(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	question := fs.String("q", "", "question")
	duration := fs.Duration("d", 24*time.Hour, "time until the deadline")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*question) == "" {
		return errors.New("create needs -q")
	}
	return call(ctx, c, http.MethodPost, "/api/markets", map[string]any{
		"question":         *question,
		"duration_seconds": int64(duration.Seconds()),
	}, out)
}

func approve(ctx context.Context, c *client, args []string, out io.Writer) error {
	amount := "max"
	if len(args) == 2 {
		amount, args = args[1], args[:1]
	}
	id, err := marketArg(args, 1)
	if err != nil {
		return err
	}
	return call(ctx, c, http.MethodPost, "/api/token/approve", map[string]any{
		"market_id": id,
		"amount":    amount,
	}, out)
}

func stake(ctx context.Context, c *client, args []string, out io.Writer) error {
	if len(args) != 3 {
		return errors.New("usage: stake ID yes|no AMOUNT")
	}
	id, err := marketArg(args[:1], 1)
	if err != nil {
		return err
	}
	return call(ctx, c, http.MethodPost, fmt.Sprintf("/api/markets/%d/stake", id), map[string]string{
		"side":   args[1],
		"amount": args[2],
	}, out)
}

func resolve(ctx context.Context, c *client, args []string, out io.Writer) error {
	if len(args) != 2 {
		return errors.New("usage: resolve ID yes|no")
	}
	id, err := marketArg(args[:1], 1)
	if err != nil {
		return err
	}
	return call(ctx, c, http.MethodPost, fmt.Sprintf("/api/markets/%d/resolve", id), map[string]string{
		"outcome": args[1],
	}, out)
}

func balance(ctx context.Context, c *client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	market := fs.String("market", "", "include the allowance of this market's escrow")
	if err := fs.Parse(args); err != nil {
		return err
	}
	account, err := accountArg(c, fs.Args())
	if err != nil {
		return err
	}
	path := "/api/token/balances/" + account.Hex()
	if *market != "" {
		path += "?market=" + url.QueryEscape(*market)
	}
	return call(ctx, c, http.MethodGet, path, nil, out)
}
