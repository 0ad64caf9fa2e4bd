package main

import (
	"fmt"
	"os"

	"roomrec/internal/cli"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		cli.NewFormatter(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	deps := &cli.Dependencies{
		Config: cfg,
		Out:    os.Stdout,
	}
	return cli.NewRootCmd(deps, version).Execute()
}
