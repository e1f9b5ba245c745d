package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctfile/ctengine/driver/delete"
	"github.com/ctfile/ctengine/match"
)

var deleteRegex bool

var deleteCmd = &cobra.Command{
	Use:   "delete <pattern>",
	Short: "Delete ctfiles matching pattern, after a dependency check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(context.Background())
		if err != nil {
			return err
		}
		defer s.Close()

		syntax := match.Glob
		if deleteRegex {
			syntax = match.Regex
		}

		op := delete.New(s.gs, delete.Args{
			Pattern:  args[0],
			Syntax:   syntax,
			CacheDir: s.cfg.Cache.Directory,
		})
		s.gs.Queue.Add(op)
		if err := s.gs.Run(); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteRegex, "regex", false, "treat pattern as a regular expression instead of a glob")
	rootCmd.AddCommand(deleteCmd)
}
