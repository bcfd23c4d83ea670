// Copyright 2026 The KTOS Authors.
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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/boot"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/fs/ktfs"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw/viodev"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
)

// mkfsCmd formats a fresh image.
type mkfsCmd struct {
	blocks uint
	inodes uint
}

func (*mkfsCmd) Name() string     { return "mkfs" }
func (*mkfsCmd) Synopsis() string { return "format a new KTFS image" }
func (*mkfsCmd) Usage() string    { return "mkfs -blocks N [-inode-blocks N] <image>\n" }

func (c *mkfsCmd) SetFlags(f *flag.FlagSet) {
	f.UintVar(&c.blocks, "blocks", 2048, "image size in 512-byte blocks")
	f.UintVar(&c.inodes, "inode-blocks", 4, "inode blocks (16 inodes each)")
}

func (c *mkfsCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return fatalf("mkfs needs exactly one image path")
	}
	path := f.Arg(0)

	data := make([]byte, int(c.blocks)*ktfs.BlockSize)
	img := kio.NewMemory(data)
	if err := ktfs.Mkfs(img, ktfs.MkfsOptions{
		TotalBlocks: uint32(c.blocks),
		InodeBlocks: uint32(c.inodes),
	}); err != nil {
		return fatalf("mkfs: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fatalf("%v", err)
	}
	fmt.Printf("%s: %d blocks, %d inode blocks\n", path, c.blocks, c.inodes)
	return subcommands.ExitSuccess
}

// withImage boots a machine around an image file and runs fn as the
// kernel main thread.
func withImage(path string, fn func(s *boot.System) error) error {
	fl, err := lockImage(path)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	disk := &viodev.MemDisk{Data: data}
	s, err := boot.New(boot.Options{
		Disk:        disk,
		DiskSectors: uint64(len(data) / ktfs.BlockSize),
	})
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	if err := s.FS.Unmount(); err != nil {
		return err
	}
	return os.WriteFile(path, disk.Data, 0o644)
}

// cpCmd imports host files into the image.
type cpCmd struct{}

func (*cpCmd) Name() string           { return "cp" }
func (*cpCmd) Synopsis() string       { return "copy host files into an image" }
func (*cpCmd) Usage() string          { return "cp <image> <host-file>...\n" }
func (*cpCmd) SetFlags(*flag.FlagSet) {}

func (c *cpCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() < 2 {
		return fatalf("cp needs an image and at least one file")
	}

	// Read the host files concurrently; the image side is serial.
	type hostFile struct {
		name string
		data []byte
	}
	files := make([]hostFile, f.NArg()-1)
	var g errgroup.Group
	for i, path := range f.Args()[1:] {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			files[i] = hostFile{name: filepath.Base(path), data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fatalf("%v", err)
	}

	err := withImage(f.Arg(0), func(s *boot.System) error {
		for _, hf := range files {
			if err := s.FS.Create(hf.name); err != nil {
				return fmt.Errorf("create %s: %w", hf.name, err)
			}
			fio, err := s.FS.Open(hf.name)
			if err != nil {
				return fmt.Errorf("open %s: %w", hf.name, err)
			}
			_, werr := kio.WriteFull(fio, hf.data)
			fio.Close()
			if werr != nil {
				return fmt.Errorf("write %s: %w", hf.name, werr)
			}
			fmt.Printf("%s: %d bytes\n", hf.name, len(hf.data))
		}
		return nil
	})
	if err != nil {
		return fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// lsCmd lists the root directory.
type lsCmd struct{}

func (*lsCmd) Name() string           { return "ls" }
func (*lsCmd) Synopsis() string       { return "list files in an image" }
func (*lsCmd) Usage() string          { return "ls <image>\n" }
func (*lsCmd) SetFlags(*flag.FlagSet) {}

func (c *lsCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return fatalf("ls needs an image path")
	}
	err := withImage(f.Arg(0), func(s *boot.System) error {
		names, err := s.FS.List()
		if err != nil {
			return err
		}
		for _, n := range names {
			fio, err := s.FS.Open(n)
			if err != nil {
				return err
			}
			end, _ := fio.End()
			fio.Close()
			fmt.Printf("%8d  %s\n", end, n)
		}
		return nil
	})
	if err != nil {
		return fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// catCmd prints a file.
type catCmd struct{}

func (*catCmd) Name() string           { return "cat" }
func (*catCmd) Synopsis() string       { return "print a file from an image" }
func (*catCmd) Usage() string          { return "cat <image> <name>\n" }
func (*catCmd) SetFlags(*flag.FlagSet) {}

func (c *catCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return fatalf("cat needs an image and a file name")
	}
	err := withImage(f.Arg(0), func(s *boot.System) error {
		fio, err := s.FS.Open(f.Arg(1))
		if err != nil {
			return err
		}
		defer fio.Close()
		end, err := fio.End()
		if err != nil {
			return err
		}
		buf := make([]byte, end)
		if _, err := kio.Fill(fio, buf); err != nil {
			return err
		}
		os.Stdout.Write(buf)
		return nil
	})
	if err != nil {
		return fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}
