package main

import (
	"fmt"
	"os"

	// registers the rtmidi driver used by internal/midi
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/tphakala/preroll-recorder/cmd"
	"github.com/tphakala/preroll-recorder/internal/buildinfo"
	"github.com/tphakala/preroll-recorder/internal/conf"
	"github.com/tphakala/preroll-recorder/internal/logger"
)

// buildDate and version are set at build time with -ldflags
var (
	buildDate string
	version   string
)

func main() {
	os.Exit(run())
}

func run() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 1
	}

	build := &buildinfo.Context{Version: version, BuildDate: buildDate}
	defer func() {
		_ = logger.Global().Close()
	}()

	if err := cmd.RootCommand(settings, build).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
