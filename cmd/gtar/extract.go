package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/lyon-v/gtarfile/tarfile"
)

type extractCommand struct {
	Mask                string `long:"mask" description:"octal permission bits to clear" default:"0"`
	Xattrs              bool   `long:"xattrs" description:"restore extended attributes"`
	PreservePermissions bool   `short:"p" long:"preserve-permissions" description:"keep setuid, setgid and sticky bits"`
	PreserveOwnership   bool   `long:"same-owner" description:"restore numeric owner and group"`
	KeepOld             bool   `short:"k" long:"keep-old-files" description:"do not replace existing files"`
	NoMtime             bool   `short:"m" long:"touch" description:"do not restore modification times"`
	IgnoreZeros         bool   `long:"ignore-zeros" description:"read past zero blocks, for concatenated archives"`
	SkipCorrupt         bool   `long:"skip-corrupt" description:"skip headers that fail to decode"`
	Args                struct {
		Archive flags.Filename `positional-arg-name:"archive" description:"the archive to extract" required:"yes"`
		Dir     string         `positional-arg-name:"dir" description:"the destination directory" required:"yes"`
	} `positional-args:"yes"`
}

func (c *extractCommand) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}
	mask, err := strconv.ParseUint(c.Mask, 8, 32)
	if err != nil {
		return fmt.Errorf("invalid mask %q: %w", c.Mask, err)
	}

	a, err := tarfile.OpenFile(string(c.Args.Archive),
		tarfile.WithMask(uint32(mask)),
		tarfile.WithUnpackXattrs(c.Xattrs),
		tarfile.WithPreservePermissions(c.PreservePermissions),
		tarfile.WithPreserveOwnership(c.PreserveOwnership),
		tarfile.WithOverwrite(!c.KeepOld),
		tarfile.WithPreserveMtime(!c.NoMtime),
		tarfile.WithIgnoreZeros(c.IgnoreZeros),
		tarfile.WithSkipCorrupt(c.SkipCorrupt))
	if err != nil {
		return err
	}
	defer a.Close()

	skipped, err := a.Unpack(c.Args.Dir)
	for _, s := range skipped {
		logrus.WithFields(logrus.Fields{"path": s.Path, "reason": s.Reason}).Warn("skipped entry")
	}
	if err != nil {
		return err
	}
	logrus.Infof(`extracted "%s" to "%s"`, c.Args.Archive, c.Args.Dir)
	return nil
}
