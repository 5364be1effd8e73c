package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

var opts struct {
	Verbose bool           `short:"v" long:"verbose" description:"enable debug logging"`
	List    listCommand    `command:"list" alias:"ls" description:"list the entries of an archive"`
	Extract extractCommand `command:"extract" alias:"x" description:"extract an archive into a directory"`
	Create  createCommand  `command:"create" alias:"c" description:"create an archive from files and directories"`
}

func main() {
	p := flags.NewParser(&opts, flags.Default)
	p.CommandHandler = func(command flags.Commander, args []string) error {
		if opts.Verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return command.Execute(args)
	}

	if _, err := p.Parse(); err != nil && !flags.WroteHelp(err) {
		os.Exit(1)
	}
}
