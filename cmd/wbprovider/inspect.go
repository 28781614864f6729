package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/west1636/RDM-waterbutler/internal/auth"
	"github.com/west1636/RDM-waterbutler/internal/provider"
	"github.com/west1636/RDM-waterbutler/internal/registry"
)

var revisionFlag string

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the supported providers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range registry.Names() {
			fmt.Println(name)
		}
	},
}

var metadataCmd = &cobra.Command{
	Use:   "metadata <path>",
	Short: "Print the metadata of a file or the listing of a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, a *app) error {
			t, err := a.target(ctx, providerName, credentialFile, auth.Source, provider.ActionMetadata, args[0])
			if err != nil {
				return err
			}
			p, err := resolve(ctx, t, args[0], true)
			if err != nil {
				return err
			}
			md, err := a.orch.Metadata(ctx, t, p, provider.MetadataOptions{Revision: revisionFlag})
			if err != nil {
				return err
			}
			return printJSON(md.Serialized())
		})
	},
}

var revisionsCmd = &cobra.Command{
	Use:   "revisions <path>",
	Short: "List the revisions of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, a *app) error {
			t, err := a.target(ctx, providerName, credentialFile, auth.Source, provider.ActionRevisions, args[0])
			if err != nil {
				return err
			}
			p, err := resolve(ctx, t, args[0], true)
			if err != nil {
				return err
			}
			revs, err := a.orch.Revisions(ctx, t, p)
			if err != nil {
				return err
			}
			out := make([]map[string]interface{}, len(revs))
			for i, rev := range revs {
				out[i] = rev.Serialized()
			}
			return printJSON(out)
		})
	},
}

func init() {
	metadataCmd.Flags().StringVar(&revisionFlag, "revision", "", "revision or version id")
}
