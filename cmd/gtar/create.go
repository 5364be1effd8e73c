package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lyon-v/gtarfile/tarfile"
)

type createCommand struct {
	Compression    string `short:"z" long:"compression" description:"compress the archive" choice:"none" choice:"gzip" choice:"bzip2" choice:"xz" choice:"zstd" default:"none"`
	Level          int    `long:"level" description:"compression level, 0 for the encoder default" default:"0"`
	Format         string `long:"format" description:"header dialect" choice:"gnu" choice:"ustar" choice:"v7" default:"gnu"`
	FollowSymlinks bool   `short:"h" long:"dereference" description:"archive the targets of symlinks"`
	Args           struct {
		Output flags.Filename   `positional-arg-name:"output" description:"the archive to create" required:"yes"`
		Paths  []flags.Filename `positional-arg-name:"path" description:"files and directories to add" required:"yes"`
	} `positional-args:"yes"`
}

func (c *createCommand) Execute(args []string) (err error) {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}
	comp, err := tarfile.ParseCompression(c.Compression)
	if err != nil {
		return err
	}
	format, err := parseFormat(c.Format)
	if err != nil {
		return err
	}

	b, err := tarfile.CreateFile(string(c.Args.Output),
		tarfile.WithCompression(comp),
		tarfile.WithCompressionLevel(c.Level),
		tarfile.WithFormat(format),
		tarfile.WithFollowSymlinks(c.FollowSymlinks))
	if err != nil {
		return err
	}
	defer func() {
		if _, ferr := b.Finish(); ferr != nil && !errors.Is(ferr, tarfile.ErrBuilderFinished) {
			err = multierror.Append(err, ferr).ErrorOrNil()
		}
	}()

	for _, p := range c.Args.Paths {
		path := string(p)
		fi, err := os.Lstat(path)
		if err != nil {
			return err
		}
		name := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "/")
		if fi.IsDir() {
			err = b.AppendDirAll(name, path)
		} else {
			err = b.AppendFile(name, path)
		}
		if err != nil {
			return errors.Wrapf(err, "add %s", path)
		}
	}

	if _, err := b.Finish(); err != nil {
		return err
	}
	if fi, err := os.Stat(string(c.Args.Output)); err == nil {
		logrus.Infof(`created "%s" (%s)`, c.Args.Output, humanize.IBytes(uint64(fi.Size())))
	}
	return nil
}

func parseFormat(s string) (tarfile.Format, error) {
	switch s {
	case "gnu":
		return tarfile.FormatGNU, nil
	case "ustar":
		return tarfile.FormatUstar, nil
	case "v7":
		return tarfile.FormatV7, nil
	}
	return 0, fmt.Errorf("unknown format %q", s)
}
