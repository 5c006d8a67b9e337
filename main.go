package main

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/cordon/cmd"
	"grimm.is/cordon/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "restrict":
		configPath, username := parseUserCommand("restrict")
		if err := cmd.RunRestrict(configPath, username); err != nil {
			cmd.Fail(err)
		}

	case "unrestrict":
		configPath, username := parseUserCommand("unrestrict")
		if err := cmd.RunUnrestrict(configPath, username); err != nil {
			cmd.Fail(err)
		}

	case "refresh":
		configPath, username := parseUserCommand("refresh")
		if err := cmd.RunRefresh(configPath, username); err != nil {
			cmd.Fail(err)
		}

	case "status":
		statusFlags := flag.NewFlagSet("status", flag.ExitOnError)
		configPath := statusFlags.String("config", cmd.DefaultConfigPath(), "Configuration file")
		statusFlags.Parse(os.Args[2:])
		username := ""
		if statusFlags.NArg() > 0 {
			username = statusFlags.Arg(0)
		}
		if err := cmd.RunStatus(*configPath, username); err != nil {
			cmd.Fail(err)
		}

	case "run":
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		configPath := runFlags.String("config", cmd.DefaultConfigPath(), "Configuration file")
		runFlags.Parse(os.Args[2:])
		if err := cmd.RunDaemon(*configPath); err != nil {
			cmd.Fail(err)
		}

	case "version":
		fmt.Printf("%s %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// parseUserCommand handles the shared "<command> [flags] <username>" shape.
func parseUserCommand(name string) (configPath, username string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfg := fs.String("config", cmd.DefaultConfigPath(), "Configuration file")
	fs.Parse(os.Args[2:])
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s %s [-config FILE] USERNAME\n", brand.BinaryName, name)
		os.Exit(1)
	}
	return *cfg, fs.Arg(0)
}

func printUsage() {
	fmt.Printf(`%s - %s

Usage:
  %s restrict USERNAME      Restrict a user's egress and block removable storage
  %s unrestrict USERNAME    Remove a user's restriction
  %s refresh USERNAME       Re-resolve and reapply a user's ruleset
  %s status [USERNAME]      Show restriction status
  %s run                    Refresh all restricted users periodically
  %s version                Show version

Options:
  -config FILE              Configuration file (default %s)
`, brand.Name, brand.Description,
		brand.BinaryName, brand.BinaryName, brand.BinaryName, brand.BinaryName,
		brand.BinaryName, brand.BinaryName, brand.DefaultConfigPath())
}
