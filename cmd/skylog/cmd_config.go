package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func (a *app) cmdConfig(args []string) int {
	flags := flag.NewFlagSet("config", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	check := flags.Bool("check", false, "validate the configuration")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if *check {
		if err := a.cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "skylog: config: %v\n", err)
			return 1
		}
	}
	if *jsonOut {
		printJSON(a.cfg)
		return 0
	}
	out, err := yaml.Marshal(a.cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: config: %v\n", err)
		return 1
	}
	os.Stdout.Write(out)
	return 0
}
