package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"csm2go/internal/pkg/csm2go/engine"
)

func voicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List voices available in the sounds and prompts directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			// Listing does not decode audio, so any positive rate will do.
			lib, err := newLibrary(cfg, 1)
			if err != nil {
				return err
			}
			list, err := lib.List()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Available voices (%d):\n", len(list))
			for _, v := range list {
				kind := "sounds"
				if v.Builtin {
					kind = "built-in"
				}
				fmt.Fprintf(out, "  %-24s %-12s %s\n", v.Name, kind, truncateText(v.Transcript, 50))
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and registered backends",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "csm2go %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Backends: %s\n", strings.Join(engine.Backends(), ", "))
		},
	}
}
