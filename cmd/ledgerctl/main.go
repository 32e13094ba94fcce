// Command ledgerctl is a small offline operator tool for a ledgerstore
// data directory: dump contents, run the overwrite/migration visitor, or
// probe what a rollback would touch. It is not a node — nothing here
// participates in consensus or opens a network port.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
	"github.com/erigontech/ledgerstore/state"
)

var cli struct {
	Path string `help:"Path to the ledgerstore data directory." required:""`

	Dump struct {
		Height   uint64 `help:"Dump the store as of this height instead of the latest."`
		AtHeight bool   `help:"Treat --height as set even when it is 0." name:"at-height"`
		Historic bool   `help:"Also dump DIFFS/BLOCK entries for the given height."`
	} `cmd:"" help:"Dump subspace contents as TOML."`

	Pattern struct {
		CF      string `help:"Column family to search (STATE, SUBSPACE, DIFFS, BLOCK, REPLAY)." default:"SUBSPACE"`
		Pattern string `arg:"" help:"Regular expression matched against keys."`
	} `cmd:"" help:"List keys in a column family matching a pattern."`

	RollbackProbe struct {
		Target uint64 `arg:"" help:"Target height to check a rollback against."`
	} `cmd:"" name:"rollback-probe" help:"Report whether a rollback to a target height is currently valid, without performing it."`
}

func main() {
	ctx := kong.Parse(&cli, kong.Name("ledgerctl"), kong.Description("Offline ledgerstore maintenance tool."))

	log, _ := zap.NewDevelopment()
	defer log.Sync() //nolint:errcheck

	db, err := state.Open(kv.Config{Path: cli.Path}, log, nil)
	if err != nil {
		fatal(err)
	}
	defer db.Close() //nolint:errcheck

	switch ctx.Command() {
	case "dump":
		var height *kv.BlockHeight
		if cli.Dump.Height != 0 || cli.Dump.AtHeight {
			h := cli.Dump.Height
			height = &h
		}
		if err := db.Dump.Write(os.Stdout, height, cli.Dump.Historic); err != nil {
			fatal(err)
		}
	case "pattern <pattern>":
		matches, err := db.Migrate.GetPattern(kv.CF(cli.Pattern.CF), cli.Pattern.Pattern)
		if err != nil {
			fatal(err)
		}
		for k, v := range matches {
			fmt.Printf("%s = %x\n", k, v)
		}
	case "rollback-probe <target>":
		heightBytes, err := db.Store.GetCF(kv.STATE, []byte(kv.StateHeight))
		if err != nil {
			fatal(err)
		}
		if heightBytes == nil {
			fatal(fmt.Errorf("no height recorded in store"))
		}
		current := decodeUint64(heightBytes)
		if cli.RollbackProbe.Target == current {
			fmt.Println("no-op: already at target height")
			return
		}
		if current == 0 || cli.RollbackProbe.Target != current-1 {
			fmt.Printf("rejected: only a single step back is supported (at %d, asked for %d)\n", current, cli.RollbackProbe.Target)
			return
		}
		fmt.Printf("ok: rollback from %d to %d is valid\n", current, cli.RollbackProbe.Target)
	default:
		fatal(fmt.Errorf("unhandled command %q", ctx.Command()))
	}
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "ledgerctl:", err)
	os.Exit(1)
}
