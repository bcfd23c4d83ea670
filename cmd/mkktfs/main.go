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

// Command mkktfs builds and inspects KTFS disk images.
//
//	mkktfs mkfs -blocks 2048 disk.img
//	mkktfs cp disk.img hello.txt a.txt
//	mkktfs ls disk.img
//	mkktfs cat disk.img hello.txt
//
// The ls, cat, and cp commands boot a throwaway machine around the image
// and go through the whole kernel I/O stack, so the tool doubles as an
// end-to-end exercise of the virtio driver, the cache, and the
// filesystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(&mkfsCmd{}, "")
	subcommands.Register(&cpCmd{}, "")
	subcommands.Register(&lsCmd{}, "")
	subcommands.Register(&catCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

func fatalf(format string, v ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "mkktfs: "+format+"\n", v...)
	return subcommands.ExitFailure
}

// lockImage takes an exclusive lock on the image file for the duration of
// a command, so a running machine and the tool cannot interleave writes.
func lockImage(path string) (*flock.Flock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s is locked by another process", path)
	}
	return fl, nil
}
