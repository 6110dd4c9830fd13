package main

import (
	"fmt"
	"log/slog"

	"nftescrow/config"
	"nftescrow/core/events"
	"nftescrow/core/state"
	"nftescrow/crypto"
	"nftescrow/native/bank"
	"nftescrow/native/escrow"
	"nftescrow/native/nft"
	"nftescrow/storage"
)

var genesisAppliedKey = []byte("genesis/applied")

// node holds the wired ledger and its collaborators over one state store.
type node struct {
	manager    *state.Manager
	vault      *bank.Vault
	registries *nft.Directory
	ledger     *escrow.Ledger
}

// buildNode attaches the ledger, vault and registries to db. Genesis balances
// and assets are written only into a fresh store; registries and receive hooks
// are installed on every start.
func buildNode(cfg *config.Config, db storage.Database, gen *config.Genesis, emitter events.Emitter, logger *slog.Logger) (*node, error) {
	admin, err := cfg.AdminAddress()
	if err != nil {
		return nil, fmt.Errorf("admin address: %w", err)
	}
	ledgerAddr, err := cfg.LedgerAddressBytes()
	if err != nil {
		return nil, fmt.Errorf("ledger address: %w", err)
	}
	manager := state.NewManager(db)
	if err := manager.EnsureFeePercent(cfg.FeePercent); err != nil {
		return nil, fmt.Errorf("initialise fee: %w", err)
	}

	vault := bank.NewVault(manager)
	directory := nft.NewDirectory()
	if gen != nil {
		for _, reg := range gen.Registries {
			addr, err := crypto.ParseAddress(reg.Address)
			if err != nil {
				return nil, err
			}
			directory.Register(nft.NewRegistry(addr, reg.Name, manager))
		}
		applied, err := manager.KVHas(genesisAppliedKey)
		if err != nil {
			return nil, err
		}
		if !applied {
			if err := seedGenesis(manager, vault, directory, gen); err != nil {
				return nil, fmt.Errorf("apply genesis: %w", err)
			}
			logger.Info("genesis applied",
				slog.Int("balances", len(gen.Balances)),
				slog.Int("registries", len(gen.Registries)))
		}
		for _, raw := range gen.Rejecting {
			addr, err := crypto.ParseAddress(raw)
			if err != nil {
				return nil, err
			}
			vault.SetReceiveHook(addr, bank.RejectAll("recipient refuses payments"))
			for _, registry := range directory.Registries() {
				registry.SetReceiveHook(addr, nft.RejectAll("recipient refuses assets"))
			}
		}
	}

	ledger := escrow.NewLedger(ledgerAddr, admin)
	ledger.SetState(manager)
	ledger.SetCustody(directory)
	ledger.SetValueTransfer(vault)
	ledger.SetEmitter(emitter)

	return &node{manager: manager, vault: vault, registries: directory, ledger: ledger}, nil
}

func seedGenesis(manager *state.Manager, vault *bank.Vault, directory *nft.Directory, gen *config.Genesis) error {
	for _, bal := range gen.Balances {
		addr, err := crypto.ParseAddress(bal.Address)
		if err != nil {
			return err
		}
		amount, err := config.ParseAmount(bal.Amount)
		if err != nil {
			return err
		}
		if err := vault.Credit(addr, amount); err != nil {
			return err
		}
	}
	for _, reg := range gen.Registries {
		addr, err := crypto.ParseAddress(reg.Address)
		if err != nil {
			return err
		}
		registry, ok := directory.Registry(addr)
		if !ok {
			return fmt.Errorf("registry %s not registered", reg.Address)
		}
		for _, asset := range reg.Assets {
			id, err := config.ParseAmount(asset.ID)
			if err != nil {
				return err
			}
			owner, err := crypto.ParseAddress(asset.Owner)
			if err != nil {
				return err
			}
			if err := registry.Seed(owner, id); err != nil {
				return err
			}
		}
	}
	return manager.KVPut(genesisAppliedKey, true)
}
