package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gestureguard/internal/biometric"
	"gestureguard/internal/detector"
	"gestureguard/internal/guard"
	"gestureguard/internal/ingest"
	"gestureguard/internal/policy"
)

var (
	ingestSkipInvalid bool
	clearYes          bool
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Import JSON Lines gesture records (stdin when no file or -)",
		RunE:  runIngestCmd,
	}
	cmd.Flags().BoolVar(&ingestSkipInvalid, "skip-invalid", false, "log and skip records that fail validation")
	return cmd
}

func runIngestCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	dec, err := ingest.NewDecoder()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		args = []string{"-"}
	}

	var stored, skipped int
	for _, name := range args {
		err := withInput(cmd, name, func(r io.Reader) error {
			rd := ingest.NewReader(r, dec)
			for {
				rec, err := rd.Next()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if errors.Is(err, ingest.ErrInvalidRecord) && ingestSkipInvalid {
					a.log.Warn("skipping record", "file", name, "error", err)
					skipped++
					continue
				}
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				if _, err := a.db.AppendGesture(ctx, &rec); err != nil {
					return fmt.Errorf("%s line %d: %w", name, rd.Line(), err)
				}
				stored++
			}
		})
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "ingested %d records (%d skipped)\n", stored, skipped)
	return nil
}

func withInput(cmd *cobra.Command, name string, fn func(io.Reader) error) error {
	if name == "-" {
		return fn(cmd.InOrStdin())
	}
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return fn(f)
}

func newTrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train <user>",
		Short: "Train a user's profile from stored gestures",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrainCmd,
	}
}

func runTrainCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	mon, err := a.monitor(biometric.Static(false))
	if err != nil {
		return err
	}
	res := mon.Train(ctx, args[0])
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Status != guard.StatusTrained {
		return fmt.Errorf("train %s: %s", args[0], res.Message)
	}
	return nil
}

func newScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <user> [file]",
		Short: "Score JSON Lines records against a trained profile",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runScoreCmd,
	}
}

type scoreLine struct {
	Line                int     `json:"line"`
	IsAnomaly           bool    `json:"is_anomaly"`
	ReconstructionError float64 `json:"reconstruction_error"`
	RiskPercentage      float64 `json:"risk_percentage"`
}

func runScoreCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	user := args[0]
	input := "-"
	if len(args) == 2 {
		input = args[1]
	}

	scorer := detector.NewScorer(a.artifacts, a.db, detectorConfig(a.cfg), a.log, a.metrics)
	profile, err := scorer.LoadProfile(ctx, user)
	if err != nil {
		return err
	}
	if profile == nil {
		return fmt.Errorf("no trained profile for %s", user)
	}

	dec, err := ingest.NewDecoder()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	return withInput(cmd, input, func(r io.Reader) error {
		rd := ingest.NewReader(r, dec)
		for {
			rec, err := rd.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			res := scorer.Detect(profile, &rec, user)
			line := scoreLine{
				Line:                rd.Line(),
				IsAnomaly:           res.IsAnomaly,
				ReconstructionError: res.ReconstructionError,
			}
			if !res.Failed() {
				line.RiskPercentage = policy.Risk(res.ReconstructionError, a.cfg.Detection.DisplayCeiling)
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
	})
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [user]",
		Short: "Show one user's state, or a summary of all users",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatusCmd,
	}
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		mon, err := a.monitor(biometric.Static(false))
		if err != nil {
			return err
		}
		st, err := mon.Status(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	}

	users, err := a.db.Users(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tGESTURES\tSESSIONS\tTRAINED")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\n", u.UserID, u.Gestures, u.CompletedSessions, u.Trained)
	}
	return tw.Flush()
}

func newEndSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end-session <user>",
		Short: "Record a completed session for a user",
		Args:  cobra.ExactArgs(1),
		RunE:  runEndSessionCmd,
	}
}

func runEndSessionCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.db.CompleteSession(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d completed sessions\n", args[0], n)
	return nil
}

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear <user>",
		Short: "Delete every gesture, counter, flag and model of a user",
		Args:  cobra.ExactArgs(1),
		RunE:  runClearCmd,
	}
	cmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "confirm deletion")
	return cmd
}

func runClearCmd(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return errors.New("refusing to clear without --yes")
	}
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	user := args[0]
	if err := a.db.ClearUser(ctx, user); err != nil {
		return err
	}
	if err := a.deleteArtifact(ctx, user); err != nil {
		return err
	}
	a.log.Info("user data cleared", "user", user)
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", user)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
