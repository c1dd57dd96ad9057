package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-exporter/internal/business"
	"github.com/openkcm/session-exporter/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Session Exporter API server",
		"Session Exporter API server hosts the phone login and the export http API "+
			"and exports every account in the background once its login completes.",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
