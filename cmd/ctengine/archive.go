package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctfile/ctengine/driver/archive"
)

var archiveRemoteName string

var archiveCmd = &cobra.Command{
	Use:   "archive <local-ctfile>",
	Short: "Ship a local ctfile to the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(context.Background())
		if err != nil {
			return err
		}
		defer s.Close()

		op := archive.New(s.gs, archive.Args{
			LocalPath:  args[0],
			RemoteName: archiveRemoteName,
			IsCtfile:   true,
			Cleartext:  s.cfg.Transfer.Cleartext,
		})
		s.gs.Queue.Add(op)
		if err := s.gs.Run(); err != nil {
			return err
		}
		fmt.Println("archived")
		return nil
	},
}

func init() {
	archiveCmd.Flags().StringVar(&archiveRemoteName, "remote-name", "", "server-side name (defaults to the local file's base name)")
	rootCmd.AddCommand(archiveCmd)
}
