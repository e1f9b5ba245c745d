package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctfile/ctengine/driver/cull"
)

var cullCmd = &cobra.Command{
	Use:   "cull",
	Short: "Sweep the server: compute the live-SHA set and commit a new generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(context.Background())
		if err != nil {
			return err
		}
		defer s.Close()

		op, err := cull.New(s.gs, cull.Args{
			CacheDir:     s.cfg.Cache.Directory,
			KeepDays:     s.cfg.Cull.KeepDays,
			ShaPerPacket: s.cfg.Cull.ShaPerPacket,
		})
		if err != nil {
			return err
		}
		s.gs.Queue.Add(op)
		if err := s.gs.Run(); err != nil {
			return err
		}
		gen, err := s.db.CurrentGeneration()
		if err != nil {
			return err
		}
		fmt.Printf("culled, generation %d\n", gen)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cullCmd)
}
