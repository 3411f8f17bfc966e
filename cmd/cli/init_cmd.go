package main

import (
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mailwatch/pkgs/config"
)

type initFlags struct {
	force bool
}

func parseInitFlags(args []string) initFlags {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var f initFlags
	fs.BoolVar(&f.force, "force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		fatal("init: %v", err)
	}
	return f
}

func (a *app) handleInit(opts initFlags) error {
	configPath := a.resolveConfigPath()

	if err := config.WriteExample(configPath, opts.force); err != nil {
		return err
	}
	fmt.Printf("Created config file at: %s\n", configPath)
	fmt.Println("Please edit the file to add your mailbox and credentials.")
	fmt.Println("Store passwords with: mailwatch secret set <key>")
	return nil
}
