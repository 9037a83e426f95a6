package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/complaintfeed/internal/daemon"
	"github.com/matheus3301/complaintfeed/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	addrFlag := flag.String("http", "", "feed API listen address (overrides config)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, HTTPAddr: *addrFlag}),
	)

	app.Run()
}
