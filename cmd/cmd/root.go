package cmd

import (
	"github.com/spf13/cobra"
)

const AppName = "diskfsd"

func Execute() error {
	rootCmd := &cobra.Command{
		Use:   AppName,
		Short: AppName + " - filesystem engine and mount daemon",
	}

	rootCmd.AddCommand(DefineListCommand())
	rootCmd.AddCommand(DefineFormatCommand())
	rootCmd.AddCommand(DefineMountCommand())
	rootCmd.AddCommand(DefineUnmountCommand())
	rootCmd.AddCommand(DefineCpCommand())

	return rootCmd.Execute()
}
