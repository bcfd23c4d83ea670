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

package boot

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the machine description read from a TOML file. Zero values
// take the defaults of Options.
type Config struct {
	// RAMSizeMB is the RAM size in mebibytes.
	RAMSizeMB uint64 `toml:"ram_size_mb"`

	// DiskImage is the path of the KTFS disk image.
	DiskImage string `toml:"disk_image"`

	// Init is the program exec'd after mount, with its arguments.
	Init     string   `toml:"init"`
	InitArgs []string `toml:"init_args"`

	// EntropySeed seeds the virtio entropy device.
	EntropySeed int64 `toml:"entropy_seed"`
}

// LoadConfig decodes a machine config file.
func LoadConfig(path string) (Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, err
	}
	return c, nil
}

// Options converts the config to boot options. The disk is opened by the
// caller (it owns locking and lifetime).
func (c Config) Options() Options {
	ram := c.RAMSizeMB * 1024 * 1024
	return Options{RAMSize: ram}
}
