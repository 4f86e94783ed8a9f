package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fiberlocal/internal/config"
)

func printConfigCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, env Env, _ []string) error {
			return execPrintConfig(o, env)
		},
	}
}

func execPrintConfig(o *IO, env Env) error {
	formatted, err := config.Format(env.Config)
	if err != nil {
		return err
	}

	o.Println(formatted)
	o.Println("")
	o.Println("# sources")

	if env.Sources.Global == "" && env.Sources.Project == "" {
		o.Println("(defaults only)")

		return nil
	}

	if env.Sources.Global != "" {
		o.Println("global_config=" + env.Sources.Global)
	}

	if env.Sources.Project != "" {
		o.Println("project_config=" + env.Sources.Project)
	}

	return nil
}
