package export

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openkcm/session-exporter/internal/business"
	"github.com/openkcm/session-exporter/internal/cmdutils"
	"github.com/openkcm/session-exporter/internal/config"
)

func Cmd(buildInfo string) *cobra.Command {
	opts := &business.ExportOptions{}

	cmd := cmdutils.CobraCommand(
		"export",
		"Export sessions and send the archives",
		"Converts the stored sessions into profiles, archives them and sends each archive to the chat. "+
			"Select the accounts with --phone or export every stored session with --all.",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			return business.ExportMain(*opts)(ctx, cfg)
		},
	)

	cmd.Flags().StringSliceVar(&opts.Phones, "phone", nil, "phone number of the account to export, repeatable")
	cmd.Flags().BoolVar(&opts.All, "all", false, "export every stored session")
	cmd.Flags().StringVar(&opts.ChatID, "chat-id", "", "chat receiving the archives, defaults to delivery.defaultChatID")
	cmd.MarkFlagsMutuallyExclusive("phone", "all")
	cmd.MarkFlagsOneRequired("phone", "all")

	return cmd
}
