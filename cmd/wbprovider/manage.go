package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/west1636/RDM-waterbutler/internal/auth"
	"github.com/west1636/RDM-waterbutler/internal/provider"
)

var (
	confirmDelete  bool
	destProvider   string
	destCredential string
	renameFlag     string
	copyConflict   string
)

var deleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Delete a file or folder; deleting the root contents needs --confirm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, a *app) error {
			t, err := a.target(ctx, providerName, credentialFile, auth.Source, provider.ActionDelete, args[0])
			if err != nil {
				return err
			}
			p, err := resolve(ctx, t, args[0], true)
			if err != nil {
				return err
			}
			if err := a.orch.Delete(ctx, t, p, provider.DeleteOptions{Confirm: confirmDelete}); err != nil {
				return err
			}
			a.logger.Info("deleted", zap.String("path", p.String()))
			return nil
		})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path/>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := args[0]
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		return run(func(ctx context.Context, a *app) error {
			t, err := a.target(ctx, providerName, credentialFile, auth.Destination, provider.ActionCreateFolder, raw)
			if err != nil {
				return err
			}
			p, err := resolve(ctx, t, raw, false)
			if err != nil {
				return err
			}
			folder, err := a.orch.CreateFolder(ctx, t, p, provider.CreateFolderOptions{})
			if err != nil {
				return err
			}
			return printJSON(folder.Serialized())
		})
	},
}

var copyCmd = &cobra.Command{
	Use:   "copy <path> <destination-folder/>",
	Short: "Copy a file or folder, within a provider or to --dest-provider",
	Args:  cobra.ExactArgs(2),
	RunE:  transferCommand(provider.ActionCopy),
}

var moveCmd = &cobra.Command{
	Use:   "move <path> <destination-folder/>",
	Short: "Move a file or folder, within a provider or to --dest-provider",
	Args:  cobra.ExactArgs(2),
	RunE:  transferCommand(provider.ActionMove),
}

func init() {
	deleteCmd.Flags().BoolVar(&confirmDelete, "confirm", false, "allow deleting the contents of the root")
	for _, cmd := range []*cobra.Command{copyCmd, moveCmd} {
		cmd.Flags().StringVar(&destProvider, "dest-provider", "", "destination provider, defaults to --provider")
		cmd.Flags().StringVar(&destCredential, "dest-credential", "", "destination credential file, defaults to --credential")
		cmd.Flags().StringVar(&renameFlag, "rename", "", "name of the entry at the destination")
		cmd.Flags().StringVar(&copyConflict, "conflict", "replace", "replace, keep or warn")
	}
}

func transferCommand(action string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		conflict, err := provider.ParseConflict(copyConflict)
		if err != nil {
			return err
		}
		dstRaw := args[1]
		if !strings.HasSuffix(dstRaw, "/") {
			return fmt.Errorf("destination must be a folder ending in /")
		}

		return run(func(ctx context.Context, a *app) error {
			src, err := a.target(ctx, providerName, credentialFile, auth.Source, action, args[0])
			if err != nil {
				return err
			}
			dstName, dstCred := destProvider, destCredential
			if dstName == "" {
				dstName = providerName
			}
			if dstCred == "" && dstName == providerName {
				dstCred = credentialFile
			}
			dest, err := a.target(ctx, dstName, dstCred, auth.Destination, action, dstRaw)
			if err != nil {
				return err
			}

			srcPath, err := resolve(ctx, src, args[0], true)
			if err != nil {
				return err
			}
			dstPath, err := resolve(ctx, dest, dstRaw, false)
			if err != nil {
				return err
			}

			opts := provider.CopyOptions{
				Rename:      renameFlag,
				Conflict:    conflict,
				Concurrency: a.cfg.Operations.OpConcurrency,
			}
			transfer := a.orch.Copy
			if action == provider.ActionMove {
				transfer = a.orch.Move
			}
			md, created, err := transfer(ctx, src, dest, srcPath, dstPath, opts)
			if err != nil {
				return err
			}
			a.logger.Info(action+" finished", zap.String("path", md.Path()), zap.Bool("created", created))
			return printJSON(md.Serialized())
		})
	}
}
