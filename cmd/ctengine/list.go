package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctfile/ctengine/driver/list"
	"github.com/ctfile/ctengine/match"
)

var (
	listInclude []string
	listExclude []string
	listRegex   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List ctfiles on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(context.Background())
		if err != nil {
			return err
		}
		defer s.Close()

		syntax := match.Glob
		if listRegex {
			syntax = match.Regex
		}

		var names []string
		op := list.New(s.gs, list.Args{
			Include: listInclude,
			Exclude: listExclude,
			Syntax:  syntax,
			Into:    &names,
		})
		s.gs.Queue.Add(op)
		if err := s.gs.Run(); err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringSliceVar(&listInclude, "include", nil, "patterns to include (default: all)")
	listCmd.Flags().StringSliceVar(&listExclude, "exclude", nil, "patterns to exclude")
	listCmd.Flags().BoolVar(&listRegex, "regex", false, "treat patterns as regular expressions instead of globs")
	rootCmd.AddCommand(listCmd)
}
