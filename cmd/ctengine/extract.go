package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctfile/ctengine/driver/extract"
)

var extractDestDir string

var extractCmd = &cobra.Command{
	Use:   "extract <remote-name>",
	Short: "Fetch a remote ctfile into the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(context.Background())
		if err != nil {
			return err
		}
		defer s.Close()

		destDir := extractDestDir
		if destDir == "" {
			destDir = s.cfg.Cache.Directory
		}
		op := extract.New(s.gs, extract.Args{RemoteName: args[0], DestDir: destDir})
		s.gs.Queue.Add(op)
		if err := s.gs.Run(); err != nil {
			return err
		}
		fmt.Println("extracted")
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractDestDir, "dest-dir", "", "destination directory (defaults to cache.directory)")
	rootCmd.AddCommand(extractCmd)
}
