/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"mynewt.apache.org/newt/util"
	"nirscan.io/nanoble/blexact/backend"
	"nirscan.io/nanoble/blexact/bledefs"
	"nirscan.io/nanoble/nanoble/blutil"
)

type SerialConfig struct {
	DevPath     string        `yaml:"dev"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type BleConfig struct {
	// MTU assumed when the coprocessor does not report one.
	PreferredMtu int `yaml:"preferred_mtu"`
}

type Config struct {
	Device    backend.DevInfo `yaml:"device"`
	Serial    SerialConfig    `yaml:"serial"`
	Ble       BleConfig       `yaml:"ble"`
	StorePath string          `yaml:"store_path"`
	LogLevel  string          `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		Device: backend.DefaultDevInfo(),
		Serial: SerialConfig{
			Baud:        115200,
			ReadTimeout: 10 * time.Second,
		},
		Ble: BleConfig{
			PreferredMtu: bledefs.BLE_ATT_MTU_DFLT,
		},
		StorePath: "~/.nanoble.store",
		LogLevel:  "info",
	}
}

func DefaultPath() (string, error) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", util.NewNewtError(err.Error())
	}

	return filepath.Join(dir, blutil.ToolInfo.CfgFilename), nil
}

// Expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	p, err := homedir.Expand(path)
	if err != nil {
		return "", util.ChildNewtError(err)
	}
	return p, nil
}

// Reads the configuration file at path.  A missing file yields the
// defaults; fields absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	log.Debugf("Reading configuration from %s", path)
	blob, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, util.ChildNewtError(err)
	}

	if err := yaml.Unmarshal(blob, cfg); err != nil {
		return nil, util.FmtNewtError("error reading configuration "+
			"(%s): %s", path, err.Error())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Device.Manufacturer == "" || c.Device.Model == "" {
		return util.FmtNewtError("device.manufacturer and device.model " +
			"must not be empty")
	}

	if c.Serial.Baud <= 0 {
		return util.FmtNewtError("serial.baud must be > 0; have %d",
			c.Serial.Baud)
	}

	mtu := c.Ble.PreferredMtu
	if mtu < bledefs.BLE_ATT_MTU_DFLT || mtu > bledefs.BLE_ATT_MTU_MAX {
		return util.FmtNewtError("ble.preferred_mtu must be in [%d, %d]; "+
			"have %d", bledefs.BLE_ATT_MTU_DFLT, bledefs.BLE_ATT_MTU_MAX, mtu)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return util.FmtNewtError("log_level: %s", err.Error())
	}

	return nil
}

func (c *Config) Save(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return util.NewNewtError(err.Error())
	}

	if err := ioutil.WriteFile(path, b, 0644); err != nil {
		return util.ChildNewtError(err)
	}

	return nil
}
