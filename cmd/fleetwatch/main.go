package main

import (
	"fmt"
	"os"
)

func main() {
	if err := executeCLI(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(cliOut, `fleetwatch: fleet worker status, failures and alerts over Redis

Worker side:
  fleetwatch run --items items.txt --command "./work.sh"

Controller side:
  fleetwatch watch [--project p] [--worker w]
  fleetwatch serve [--addr :3001]
  fleetwatch status [--project p] [--sort scale|latest|name]
  fleetwatch failures --project p --worker w [--item i | --report]
  fleetwatch request --project p --worker w --what status|log
  fleetwatch mute [--project p] [--off]
  fleetwatch notify [--scope GLOBAL|p] [--kind k --state on|off | --reset]
  fleetwatch clear-errors [--project p]
  fleetwatch prune --project p --worker w
  fleetwatch reset --yes
  fleetwatch config-init [--path .fleetwatch/config.json]

Common flags: --config-path, --redis-url, --log-level
`)
}
