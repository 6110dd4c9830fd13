package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

func runNFTCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, nftUsage())
		return 1
	}
	switch args[0] {
	case "approve":
		return runNFTApprove(args[1:], stdout, stderr)
	case "approve-all":
		return runNFTApproveAll(args[1:], stdout, stderr)
	case "owner":
		return runNFTOwner(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown nft subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, nftUsage())
		return 1
	}
}

func runNFTApprove(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("nft approve", stderr)
	fs.Usage = func() { fmt.Fprintln(stderr, nftUsage()) }
	var registry, assetID, operator string
	fs.StringVar(&registry, "registry", "", "asset registry address")
	fs.StringVar(&assetID, "asset", "", "asset id")
	fs.StringVar(&operator, "operator", "", "address allowed to move the asset")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := validateAddress("--registry", registry); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	if err := validateUint("--asset", assetID, false); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	if err := validateAddress("--operator", operator); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"registry": registry,
		"assetId":  strings.TrimSpace(assetID),
		"operator": operator,
	}
	return invoke(stdout, stderr, "nft_approve", params, true)
}

func runNFTApproveAll(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("nft approve-all", stderr)
	fs.Usage = func() { fmt.Fprintln(stderr, nftUsage()) }
	var registry, operator, approved string
	fs.StringVar(&registry, "registry", "", "asset registry address")
	fs.StringVar(&operator, "operator", "", "operator address")
	fs.StringVar(&approved, "approved", "true", "grant (true) or revoke (false)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := validateAddress("--registry", registry); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	if err := validateAddress("--operator", operator); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	value, err := strconv.ParseBool(strings.TrimSpace(approved))
	if err != nil {
		return printEscrowError(stderr, "--approved must be true or false")
	}
	params := map[string]interface{}{
		"registry": registry,
		"operator": operator,
		"approved": value,
	}
	return invoke(stdout, stderr, "nft_setApprovalForAll", params, true)
}

func runNFTOwner(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("nft owner", stderr)
	fs.Usage = func() { fmt.Fprintln(stderr, nftUsage()) }
	var registry, assetID string
	fs.StringVar(&registry, "registry", "", "asset registry address")
	fs.StringVar(&assetID, "asset", "", "asset id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := validateAddress("--registry", registry); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	if err := validateUint("--asset", assetID, false); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	params := map[string]interface{}{"registry": registry, "assetId": strings.TrimSpace(assetID)}
	return invoke(stdout, stderr, "nft_ownerOf", params, false)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		return printEscrowError(stderr, "usage: escrow-cli balance <address>")
	}
	if err := validateAddress("address", args[0]); err != nil {
		return printEscrowError(stderr, err.Error())
	}
	return invoke(stdout, stderr, "bank_balance", map[string]interface{}{"address": args[0]}, false)
}

func nftUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli nft <command> [flags]

Commands:
  approve      Approve an operator for one asset
  approve-all  Grant or revoke an operator for every asset you hold
  owner        Show the holder and approval of an asset
`)
}
