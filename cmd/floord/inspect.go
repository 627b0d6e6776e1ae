package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"floorlend/core"
	"floorlend/crypto"
	"floorlend/native/fixed"
	"floorlend/storage"
)

// snapshot is the store summary printed by inspect.
type snapshot struct {
	Root      string            `json:"root" yaml:"root"`
	Pool      poolSummary       `json:"pool" yaml:"pool"`
	Vault     vaultSummary      `json:"vault" yaml:"vault"`
	Positions []positionSummary `json:"positions" yaml:"positions"`
}

type poolSummary struct {
	ReserveFloor string `json:"reserve_floor" yaml:"reserve_floor"`
	ReserveQuote string `json:"reserve_quote" yaml:"reserve_quote"`
	SpotPrice    string `json:"spot_price" yaml:"spot_price"`
	FloorPrice   string `json:"floor_price" yaml:"floor_price"`
	FeeBps       uint64 `json:"fee_bps" yaml:"fee_bps"`
	Supply       string `json:"supply" yaml:"supply"`
}

type vaultSummary struct {
	TotalAssets  string `json:"total_assets" yaml:"total_assets"`
	TotalBorrows string `json:"total_borrows" yaml:"total_borrows"`
	BorrowRate   string `json:"borrow_rate" yaml:"borrow_rate"`
	LastAccrual  uint64 `json:"last_accrual" yaml:"last_accrual"`
}

type positionSummary struct {
	Account    string `json:"account" yaml:"account"`
	Status     string `json:"status" yaml:"status"`
	Collateral string `json:"collateral" yaml:"collateral"`
	Debt       string `json:"debt" yaml:"debt"`
	Healthy    bool   `json:"healthy" yaml:"healthy"`
}

func inspectCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "inspect",
		Short: "Print the pool, vault and open positions held in the store",
		RunE:  runInspect,
	}
	c.Flags().String("format", "table", "output format (table, json, yaml)")
	return c
}

func runInspect(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	format, _ := c.Flags().GetString("format")
	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	params, err := cfg.Params()
	if err != nil {
		return err
	}
	protocol, err := core.NewProtocol(db, params, core.WithMetrics(nil))
	if err != nil {
		return err
	}
	snap, err := takeSnapshot(protocol)
	if err != nil {
		return err
	}
	return printSnapshot(c.OutOrStdout(), format, snap)
}

func takeSnapshot(p *core.Protocol) (*snapshot, error) {
	root, err := p.Root()
	if err != nil {
		return nil, err
	}
	pool, err := p.Pool()
	if err != nil {
		return nil, err
	}
	vault, err := p.Vault()
	if err != nil {
		return nil, err
	}
	snap := &snapshot{
		Root: root.Hex(),
		Pool: poolSummary{
			ReserveFloor: fixed.FormatUnits(pool.ReserveFloor),
			ReserveQuote: fixed.FormatUnits(pool.ReserveQuote),
			SpotPrice:    fixed.FormatUnits(pool.SpotPrice),
			FloorPrice:   fixed.FormatUnits(pool.FloorPrice),
			FeeBps:       pool.FeeBps,
			Supply:       fixed.FormatUnits(pool.Supply),
		},
		Vault: vaultSummary{
			TotalAssets:  fixed.FormatUnits(vault.TotalAssets),
			TotalBorrows: fixed.FormatUnits(vault.TotalBorrows),
			BorrowRate:   fixed.FormatUnits(vault.BorrowRate),
			LastAccrual:  vault.LastAccrual,
		},
		Positions: []positionSummary{},
	}
	for _, addr := range p.Positions() {
		view, err := p.Account(addr)
		if err != nil {
			return nil, err
		}
		snap.Positions = append(snap.Positions, positionSummary{
			Account:    crypto.EncodeAddress(addr),
			Status:     string(view.Position.Status),
			Collateral: fixed.FormatUnits(view.Position.Collateral),
			Debt:       fixed.FormatUnits(view.Position.Debt),
			Healthy:    view.Position.Healthy,
		})
	}
	return snap, nil
}

func printSnapshot(w io.Writer, format string, snap *snapshot) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		return yaml.NewEncoder(w).Encode(snap)
	case "table", "":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "state root\t%s\n", snap.Root)
	fmt.Fprintf(tw, "pool reserves\t%s floor / %s quote\n", snap.Pool.ReserveFloor, snap.Pool.ReserveQuote)
	fmt.Fprintf(tw, "spot price\t%s\n", snap.Pool.SpotPrice)
	fmt.Fprintf(tw, "floor price\t%s\n", snap.Pool.FloorPrice)
	fmt.Fprintf(tw, "swap fee\t%d bps\n", snap.Pool.FeeBps)
	fmt.Fprintf(tw, "collateral supply\t%s\n", snap.Pool.Supply)
	fmt.Fprintf(tw, "vault assets\t%s (borrowed %s)\n", snap.Vault.TotalAssets, snap.Vault.TotalBorrows)
	fmt.Fprintf(tw, "borrow rate\t%s\n", snap.Vault.BorrowRate)
	accrued := "never"
	if snap.Vault.LastAccrual > 0 {
		accrued = humanize.Time(time.Unix(int64(snap.Vault.LastAccrual), 0))
	}
	fmt.Fprintf(tw, "last accrual\t%s\n", accrued)
	fmt.Fprintf(tw, "open positions\t%s\n", humanize.Comma(int64(len(snap.Positions))))
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(snap.Positions) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tSTATUS\tCOLLATERAL\tDEBT\tHEALTHY")
	for _, pos := range snap.Positions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", pos.Account, pos.Status, pos.Collateral, pos.Debt, pos.Healthy)
	}
	return tw.Flush()
}
