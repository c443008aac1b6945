package main

import (
	"github.com/alecthomas/kong"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config string `name:"config" short:"c" default:"./config.json" type:"path" help:"Path to the JSON config file. Created with defaults when missing."`
}

// CLI defines the command-line interface.
var CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the HTTP API server (default)."`
	Render  RenderCmd  `cmd:"" help:"Render a template file against a set of fields."`
	Count   CountCmd   `cmd:"" help:"Count the cloze cards a field text produces."`
	Import  ImportCmd  `cmd:"" help:"Import note type definitions or exports into the collection."`
	Export  ExportCmd  `cmd:"" help:"Export a note type and its notes."`
	Version VersionCmd `cmd:"" help:"Print version information."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("drosera"),
		kong.Description("Card template rendering server for note collections."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	err := ctx.Run(&CLI.Globals)
	ctx.FatalIfErrorf(err)
}
