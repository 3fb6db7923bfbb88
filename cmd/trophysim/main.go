// Command trophysim runs the trophy table simulation and writes its
// artifacts to disk, optionally uploading them to object storage.
package main

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"matchmaking-system/config"
	"matchmaking-system/simulation"
	"matchmaking-system/utils"
)

const (
	trophyFile  = "trophy.json"
	changesFile = "changes.json"
)

type simFlags struct {
	users     int
	rounds    int
	seed      int64
	out       string
	noChanges bool
	upload    string
}

func newRootCmd() *cobra.Command {
	f := simFlags{}
	cmd := &cobra.Command{
		Use:   "trophysim",
		Short: "Simulate trophy progression of a synthetic player population",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulation(cmd, f)
		},
		SilenceUsage: true,
	}

	cmd.Flags().IntVar(&f.users, "users", simulation.DefaultUsers, "number of simulated players")
	cmd.Flags().IntVar(&f.rounds, "rounds", simulation.DefaultRounds, "number of rounds, every player plays once per round")
	cmd.Flags().Int64Var(&f.seed, "seed", time.Now().UnixNano(), "random seed")
	cmd.Flags().StringVar(&f.out, "out", ".", "directory the artifacts are written to")
	cmd.Flags().BoolVar(&f.noChanges, "no-changes", false, "skip recording every match into "+changesFile)
	cmd.Flags().StringVar(&f.upload, "upload", "", "object key prefix; uploads the artifacts to R2 when set")
	return cmd
}

func runSimulation(cmd *cobra.Command, f simFlags) error {
	started := time.Now()
	res, err := simulation.Run(simulation.Options{
		Users:         f.users,
		Rounds:        f.rounds,
		Seed:          f.seed,
		RecordChanges: !f.noChanges,
	})
	if err != nil {
		return err
	}

	artifacts := map[string][]byte{}
	if artifacts[trophyFile], err = res.TrophyJSON(); err != nil {
		return err
	}
	if !f.noChanges {
		if artifacts[changesFile], err = res.ChangesJSON(); err != nil {
			return err
		}
	}
	for name, data := range artifacts {
		if err := utils.WriteFile(filepath.Join(f.out, name), data); err != nil {
			return err
		}
	}

	p := message.NewPrinter(language.English)
	w := cmd.OutOrStdout()
	p.Fprintf(w, "seed %d: %d matches between %d players in %v\n", f.seed, res.Matches, len(res.Users), time.Since(started).Round(time.Millisecond))
	p.Fprintf(w, "%8s %7s %9s %9s %11s\n", "win rate", "players", "min", "max", "mean")
	for _, s := range res.Summary() {
		p.Fprintf(w, "%7d%% %7d %9d %9d %11.1f\n", s.WinRate, s.Users, s.MinTrophy, s.MaxTrophy, s.MeanTrophy)
	}

	if f.upload == "" {
		return nil
	}
	uploader, err := utils.NewArtifactUploader(cmd.Context(), config.LoadR2())
	if err != nil {
		return err
	}
	for name, data := range artifacts {
		url, err := uploader.Upload(cmd.Context(), path.Join(f.upload, name), data, "application/json")
		if err != nil {
			return err
		}
		p.Fprintf(w, "uploaded %s\n", url)
	}
	return nil
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("simulation failed")
		os.Exit(1)
	}
}
