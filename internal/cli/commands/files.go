// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"keyfs/internal/common"
)

var (
	lsLong bool
	lsRaw  bool
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory",
	Long: `List the entries of a directory (default: the root).

Entries are found by a prefix scan of the store. With --raw the scan result is
printed as is: one leaf name per key under the directory's prefix, including
keys of deeper descendants and duplicates.

Examples:
  keyfs ls
  keyfs ls -l /docs
  keyfs ls --raw /`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

var catCmd = &cobra.Command{
	Use:   "cat <path>...",
	Short: "Print file contents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCat,
}

var putCmd = &cobra.Command{
	Use:   "put <path> [source]",
	Short: "Write a file from a local file or stdin",
	Long: `Create or replace a file with the contents of a local file, or of stdin
when no source is given.

Examples:
  keyfs put /docs/readme ./README.md
  echo hello | keyfs put /greeting`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPut,
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Remove files or empty directories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

var mvCmd = &cobra.Command{
	Use:   "mv <old> <new>",
	Short: "Rename a file",
	Long:  `Rename a file, replacing any file at the destination. Directories cannot be renamed.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runMv,
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>...",
	Short: "Create directories",
	Long: `Create directories, including parents.

Directories are not stored: they exist for the lifetime of a mount. The
command fails if a file is in the way.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMkdir,
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show file attributes and storage key",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

var truncateCmd = &cobra.Command{
	Use:   "truncate <path> <size>",
	Short: "Shrink or zero-extend a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runTruncate,
}

func init() {
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Long listing (type, size, modification time)")
	lsCmd.Flags().BoolVar(&lsRaw, "raw", false, "Print the prefix scan result without filtering")

	rootCmd.AddCommand(lsCmd, catCmd, putCmd, rmCmd, mvCmd, mkdirCmd, statCmd, truncateCmd)
}

// withSession opens a session, makes the directories on paths exist and
// runs fn.
func withSession(paths []string, fn func(*session) error) (err error) {
	sess, err := openSession()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for _, p := range paths {
		if err := sess.materialize(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return fn(sess)
}

func runLs(cmd *cobra.Command, args []string) error {
	dir := "/"
	if len(args) > 0 {
		dir = args[0]
	}
	return withSession(nil, func(s *session) error {
		out := cmd.OutOrStdout()
		// The directory itself is implied by the command line.
		if err := s.fsys.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
		if lsRaw {
			n, err := s.fs.Walk(dir)
			if err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}
			names, err := s.fs.Readdir(n)
			if err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		}

		infos, err := s.fsys.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
		if !lsLong {
			for _, fi := range infos {
				fmt.Fprintln(out, fi.Name())
			}
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, fi := range infos {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", fi.Mode(), fi.Size(), fi.ModTime().Format(time.RFC3339), fi.Name())
		}
		return w.Flush()
	})
}

func runCat(cmd *cobra.Command, args []string) error {
	return withSession(args, func(s *session) error {
		for _, p := range args {
			f, err := s.fsys.Open(p)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			_, err = io.Copy(cmd.OutOrStdout(), f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
		}
		return nil
	})
}

func runPut(cmd *cobra.Command, args []string) error {
	target := args[0]
	var src io.Reader = cmd.InOrStdin()
	if len(args) == 2 {
		in, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer in.Close()
		src = in
	}
	return withSession([]string{target}, func(s *session) error {
		f, err := s.fsys.Create(target)
		if err != nil {
			return fmt.Errorf("%s: %w", target, err)
		}
		n, err := io.Copy(f, src)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("%s: %w", target, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", n, target)
		return nil
	})
}

func runRm(cmd *cobra.Command, args []string) error {
	return withSession(args, func(s *session) error {
		for _, p := range args {
			if err := s.fsys.Remove(p); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
		}
		return nil
	})
}

func runMv(cmd *cobra.Command, args []string) error {
	return withSession(args, func(s *session) error {
		if err := s.fsys.Rename(args[0], args[1]); err != nil {
			return fmt.Errorf("%s -> %s: %w", args[0], args[1], err)
		}
		return nil
	})
}

func runMkdir(cmd *cobra.Command, args []string) error {
	return withSession(nil, func(s *session) error {
		for _, p := range args {
			if err := s.fsys.MkdirAll(p, 0755); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
		}
		return nil
	})
}

func runStat(cmd *cobra.Command, args []string) error {
	p := args[0]
	return withSession(args, func(s *session) error {
		n, err := s.fs.Walk(p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		st, err := s.fs.Getattr(n)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		kind := "file"
		if st.IsDir() {
			kind = "directory"
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 1, ' ', 0)
		fmt.Fprintf(w, "Path:\t%s\n", "/"+common.NormalizePath(p))
		fmt.Fprintf(w, "Key:\t%q\n", s.fs.Key(n))
		fmt.Fprintf(w, "Type:\t%s\n", kind)
		fmt.Fprintf(w, "Mode:\t%#o\n", st.Mode)
		fmt.Fprintf(w, "Size:\t%d\n", st.Size)
		fmt.Fprintf(w, "Blocks:\t%d (%d bytes each)\n", st.Blocks, st.Blksize)
		fmt.Fprintf(w, "Modified:\t%s\n", st.Mtime.Format(time.RFC3339Nano))
		return w.Flush()
	})
}

func runTruncate(cmd *cobra.Command, args []string) error {
	p := args[0]
	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || size < 0 {
		return fmt.Errorf("invalid size %q", args[1])
	}
	return withSession([]string{p}, func(s *session) error {
		f, err := s.fsys.OpenFile(p, os.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		err = f.Truncate(size)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		return nil
	})
}
