package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"nftescrow/crypto"
	"nftescrow/native/escrow"
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var escrowRPCCall = callEscrowRPC

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}

	switch args[0] {
	case "derive-id":
		return runEscrowDeriveID(args[1:], stdout, stderr)
	case "open":
		return runEscrowOpen(args[1:], stdout, stderr)
	case "pay":
		return runEscrowPay(args[1:], stdout, stderr)
	case "cancel":
		return runEscrowTransition("escrow_cancel", "escrow cancel", args[1:], stdout, stderr)
	case "reject":
		return runEscrowTransition("escrow_reject", "escrow reject", args[1:], stdout, stderr)
	case "get":
		return runEscrowLookup("escrow_get", "escrow get", args[1:], stdout, stderr)
	case "events":
		return runEscrowEvents(args[1:], stdout, stderr)
	case "fee":
		return runEscrowFee(args[1:], stdout, stderr)
	case "set-fee":
		return runEscrowSetFee(args[1:], stdout, stderr)
	case "withdraw-fees":
		return runEscrowWithdrawFees(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

func runEscrowDeriveID(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow derive-id", stderr)
	var seller, buyer, registry, secret string
	fs.StringVar(&seller, "seller", "", "seller address")
	fs.StringVar(&buyer, "buyer", "", "buyer address")
	fs.StringVar(&registry, "registry", "", "asset registry address")
	fs.StringVar(&secret, "secret", "", "shared secret (0x-prefixed 32 bytes or free text)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	for _, field := range []struct{ flag, value string }{
		{"--seller", seller}, {"--buyer", buyer}, {"--registry", registry},
	} {
		if err := validateAddress(field.flag, field.value); err != nil {
			return printEscrowError(stderr, err.Error())
		}
	}
	if strings.TrimSpace(secret) == "" {
		return printEscrowError(stderr, "--secret is required")
	}
	params := map[string]interface{}{
		"seller":        seller,
		"buyer":         buyer,
		"assetRegistry": registry,
		"secret":        secret,
	}
	return invoke(stdout, stderr, "escrow_deriveId", params, false)
}

func runEscrowOpen(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow open", stderr)
	var id, assetID, price, registry, buyer string
	fs.StringVar(&id, "id", "", "agreement identifier")
	fs.StringVar(&assetID, "asset", "", "asset id within the registry")
	fs.StringVar(&price, "price", "", "price in native units")
	fs.StringVar(&registry, "registry", "", "asset registry address")
	fs.StringVar(&buyer, "buyer", "", "buyer address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if err := validateEscrowID(id); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	if err := validateUint("--asset", assetID, false); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	if err := validateUint("--price", price, true); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	if err := validateAddress("--registry", registry); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	if err := validateAddress("--buyer", buyer); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"id":            strings.TrimSpace(id),
		"assetId":       strings.TrimSpace(assetID),
		"price":         strings.TrimSpace(price),
		"assetRegistry": registry,
		"buyer":         buyer,
	}
	return invoke(stdout, stderr, "escrow_open", params, true)
}

func runEscrowPay(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow pay", stderr)
	var id, value string
	fs.StringVar(&id, "id", "", "agreement identifier")
	fs.StringVar(&value, "value", "", "payment attached to the call; must equal the price")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if err := validateEscrowID(id); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	if err := validateUint("--value", value, true); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	params := map[string]interface{}{"id": strings.TrimSpace(id), "value": strings.TrimSpace(value)}
	return invoke(stdout, stderr, "escrow_pay", params, true)
}

func runEscrowTransition(method, name string, args []string, stdout, stderr io.Writer) int {
	return runEscrowIDCommand(method, name, true, args, stdout, stderr)
}

func runEscrowLookup(method, name string, args []string, stdout, stderr io.Writer) int {
	return runEscrowIDCommand(method, name, false, args, stdout, stderr)
}

func runEscrowIDCommand(method, name string, requireAuth bool, args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet(name, stderr)
	var id string
	fs.StringVar(&id, "id", "", "agreement identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if err := validateEscrowID(id); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	return invoke(stdout, stderr, method, map[string]interface{}{"id": strings.TrimSpace(id)}, requireAuth)
}

// runEscrowEvents lists one agreement's events with --id, or pages through
// the whole journal with --since.
func runEscrowEvents(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow events", stderr)
	var id, since string
	var limit int
	fs.StringVar(&id, "id", "", "agreement identifier")
	fs.StringVar(&since, "since", "", "list journal events with a sequence above this value")
	fs.IntVar(&limit, "limit", 0, "maximum events returned with --since (default 100)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(since) == "" {
		if err := validateEscrowID(id); err != nil {
			return printEscrowError(stderr, err.Error())
		}
		return invoke(stdout, stderr, "escrow_events", map[string]interface{}{"id": strings.TrimSpace(id)}, false)
	}
	if strings.TrimSpace(id) != "" {
		return printEscrowError(stderr, "--id and --since cannot be combined")
	}
	after, err := strconv.ParseInt(strings.TrimSpace(since), 10, 64)
	if err != nil || after < 0 {
		return printEscrowError(stderr, "--since must be a non-negative integer")
	}
	if limit < 0 {
		return printEscrowError(stderr, "--limit must not be negative")
	}
	params := map[string]interface{}{"after": after}
	if limit > 0 {
		params["limit"] = limit
	}
	return invoke(stdout, stderr, "escrow_eventsSince", params, false)
}

func runEscrowFee(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	return invoke(stdout, stderr, "escrow_fee", map[string]interface{}{}, false)
}

func runEscrowSetFee(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow set-fee", stderr)
	var percent string
	fs.StringVar(&percent, "percent", "", "fee percentage between 0 and 100")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(percent) == "" {
		return printEscrowError(stderr, "--percent is required")
	}
	value, err := strconv.ParseUint(strings.TrimSpace(percent), 10, 8)
	if err != nil || value > escrow.MaxFeePercent {
		return printEscrowError(stderr, "--percent must be an integer between 0 and 100")
	}
	return invoke(stdout, stderr, "escrow_setFee", map[string]interface{}{"fee": value}, true)
}

func runEscrowWithdrawFees(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	return invoke(stdout, stderr, "escrow_withdrawFees", nil, true)
}

func invoke(stdout, stderr io.Writer, method string, params interface{}, requireAuth bool) int {
	result, rpcErr, err := escrowRPCCall(method, params, requireAuth)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func newEscrowFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, escrowUsage())
	}
	return fs
}

func printEscrowError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func handleRPCError(w io.Writer, err *rpcError) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC error %d: %s\n", err.Code, err.Message)
	if len(err.Data) > 0 && string(err.Data) != "null" {
		fmt.Fprintf(w, "  %s\n", strings.Trim(string(err.Data), `"`))
	}
	return 1
}

func handleRPCCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	if _, err := w.Write(result); err == nil {
		if result[len(result)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

func escrowUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli escrow <command> [flags]

Commands:
  derive-id      Derive an agreement id from seller, buyer, registry and secret
  open           Hand an asset to the ledger and open an agreement
  pay            Pay the agreed price as the buyer
  cancel         Reclaim the asset as the seller after the deadline
  reject         Decline the agreement as the buyer
  get            Fetch an agreement by id
  events         List an agreement's events (--id) or the journal after a sequence (--since)
  fee            Show the current fee percentage
  set-fee        Change the fee percentage (administrator)
  withdraw-fees  Sweep collected fees to the administrator
`)
}

func validateEscrowID(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--id is required")
	}
	if _, err := escrow.ParseID(value); err != nil {
		return fmt.Errorf("--id must be a decimal or 0x-prefixed identifier")
	}
	return nil
}

func validateAddress(flagName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", flagName)
	}
	if _, err := crypto.ParseAddress(value); err != nil {
		return fmt.Errorf("%s: %v", flagName, err)
	}
	return nil
}

func validateUint(flagName, value string, positive bool) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s is required", flagName)
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return fmt.Errorf("%s must be a non-negative integer", flagName)
	}
	if positive && parsed.Sign() == 0 {
		return fmt.Errorf("%s must be greater than zero", flagName)
	}
	return nil
}

func callEscrowRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}
