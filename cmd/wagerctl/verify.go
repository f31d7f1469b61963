package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"wager-core/internal/fairness"
)

var errMismatch = errors.New("value does not match")

type verifyOptions struct {
	serverSeed string
	clientSeed string
	nonce      int64
	cursor     int
	mode       string
	gameKind   string
	commitment string
	expect     float64
	hasExpect  bool
}

// runVerify recomputes a value offline. It fails when an expected value or
// commitment was given and does not match.
func runVerify(w io.Writer, opts verifyOptions) error {
	mode := fairness.Mode(opts.mode)
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q", opts.mode)
	}
	if mode == fairness.ModeGameKind && opts.gameKind == "" {
		return errors.New("--game-kind is required in game_kind mode")
	}

	value, hash := fairness.Compute(mode, opts.serverSeed, opts.clientSeed, opts.nonce, opts.cursor, opts.gameKind)
	fmt.Fprintf(w, "value:      %.16f\n", value)
	fmt.Fprintf(w, "hash:       %s\n", hash)
	fmt.Fprintf(w, "commitment: %s\n", fairness.HashServerSeed(opts.serverSeed))

	if opts.commitment != "" && !fairness.VerifyCommitment(opts.serverSeed, opts.commitment) {
		return fmt.Errorf("server seed does not hash to %s", opts.commitment)
	}
	if opts.hasExpect &&
		!fairness.VerifyMode(mode, opts.serverSeed, opts.clientSeed, opts.nonce, opts.cursor, opts.gameKind, opts.expect) {
		return fmt.Errorf("%w: expected %v, got %v", errMismatch, opts.expect, value)
	}
	return nil
}

func verifyCommand() *cobra.Command {
	var opts verifyOptions
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute a provably fair value from revealed seeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.hasExpect = cmd.Flags().Changed("expect")
			return runVerify(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.serverSeed, "server-seed", "", "revealed server seed")
	cmd.Flags().StringVar(&opts.clientSeed, "client-seed", "", "client seed")
	cmd.Flags().Int64Var(&opts.nonce, "nonce", 0, "nonce of the round")
	cmd.Flags().IntVar(&opts.cursor, "cursor", 0, "draw index within the round")
	cmd.Flags().StringVar(&opts.mode, "mode", string(fairness.ModeCursor), "hash mode: cursor or game_kind")
	cmd.Flags().StringVar(&opts.gameKind, "game-kind", "", "game kind, used in game_kind mode")
	cmd.Flags().StringVar(&opts.commitment, "commitment", "", "published server seed hash to check against")
	cmd.Flags().Float64Var(&opts.expect, "expect", 0, "value the round reported")
	_ = cmd.MarkFlagRequired("server-seed")
	_ = cmd.MarkFlagRequired("client-seed")
	return cmd
}
