package housekeeper

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-exporter/internal/business"
	"github.com/openkcm/session-exporter/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"housekeeper",
		"Session Exporter Housekeeping job",
		"Session Exporter Housekeeping job removes export archives older than the configured retention.",
		buildInfo,
		cmdutils.RunAsService,
		business.HousekeeperMain,
	)
}
