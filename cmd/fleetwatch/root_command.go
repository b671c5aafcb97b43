package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/spf13/cobra"
)

// cliOut receives everything the commands print; tests swap it.
var cliOut io.Writer = os.Stdout

func executeCLI(args []string) error {
	rootCmd, err := newRootCommand()
	if err != nil {
		return err
	}
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func newRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "fleetwatch",
		Short:         "watch and steer a fleet of workers through Redis",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			printUsage()
			return fmt.Errorf("command is required")
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	defaultHelpFunc := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd == rootCmd {
			printUsage()
			return
		}
		defaultHelpFunc(cmd, args)
	})

	constructors := []func() (cmds.Command, error){
		func() (cmds.Command, error) { return newRunGlazedCommand() },
		func() (cmds.Command, error) { return newStatusGlazedCommand() },
		func() (cmds.Command, error) { return newFailuresGlazedCommand() },
		func() (cmds.Command, error) { return newRequestGlazedCommand() },
		func() (cmds.Command, error) { return newWatchGlazedCommand() },
		func() (cmds.Command, error) { return newServeGlazedCommand() },
		func() (cmds.Command, error) { return newMuteGlazedCommand() },
		func() (cmds.Command, error) { return newNotifyGlazedCommand() },
		func() (cmds.Command, error) { return newClearErrorsGlazedCommand() },
		func() (cmds.Command, error) { return newPruneGlazedCommand() },
		func() (cmds.Command, error) { return newResetGlazedCommand() },
		func() (cmds.Command, error) { return newConfigInitGlazedCommand() },
	}
	for _, construct := range constructors {
		command, err := construct()
		if err != nil {
			return nil, err
		}
		cobraCommand, err := buildGlazedCobraCommand(command)
		if err != nil {
			return nil, err
		}
		rootCmd.AddCommand(cobraCommand)
	}
	return rootCmd, nil
}

func buildGlazedCobraCommand(command cmds.Command) (*cobra.Command, error) {
	return cli.BuildCobraCommand(
		command,
		cli.WithParserConfig(cli.CobraParserConfig{
			ShortHelpLayers: []string{layers.DefaultSlug},
			MiddlewaresFunc: cli.CobraCommandDefaultMiddlewares,
		}),
		cli.WithCobraMiddlewaresFunc(cli.CobraCommandDefaultMiddlewares),
		cli.WithCobraShortHelpLayers(layers.DefaultSlug),
	)
}
