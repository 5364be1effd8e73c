package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/lyon-v/gtarfile/tarfile"
)

type listCommand struct {
	IgnoreZeros bool `long:"ignore-zeros" description:"read past zero blocks, for concatenated archives"`
	Args        struct {
		Archive flags.Filename `positional-arg-name:"archive" description:"the archive to list" required:"yes"`
	} `positional-args:"yes"`
}

func (c *listCommand) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	a, err := tarfile.OpenFile(string(c.Args.Archive), tarfile.WithIgnoreZeros(c.IgnoreZeros))
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	var total uint64
	for e, err := range a.Entries() {
		if err != nil {
			return errors.Wrapf(err, "list %s", c.Args.Archive)
		}
		h := e.Header()
		name := e.Path()
		if l := e.LinkName(); l != "" {
			name += " -> " + l
		}
		fmt.Fprintf(w, "%s\t%04o\t%d/%d\t%s\t%s\t%s\n",
			h.Type, h.Mode, h.UID, h.GID, humanize.IBytes(h.FileSize()), h.ModTime().UTC().Format("2006-01-02 15:04"), name)
		total += h.FileSize()
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%s archive, %s of file data\n", a.Compression(), humanize.IBytes(total))
	return nil
}
