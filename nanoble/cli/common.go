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
package cli

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/newt/util"
	"nirscan.io/nanoble/blexact/backend"
	"nirscan.io/nanoble/blexact/periph"
	"nirscan.io/nanoble/nanoble/blutil"
	"nirscan.io/nanoble/nanoble/config"
)

var globalCfg *config.Config
var globalPeriph *periph.Peripheral
var globalStorePath string
var shutdownMtx sync.Mutex

var onExitFn func()

func NbSetOnExit(fn func()) {
	onExitFn = fn
}

func nbExit(code int) {
	if onExitFn != nil {
		onExitFn()
	}
	os.Exit(code)
}

func nbUsage(cmd *cobra.Command, err error) {
	if err != nil {
		text := err.Error()
		if nErr, ok := err.(*util.NewtError); ok {
			text = nErr.Text
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", text)
	}

	if cmd != nil {
		fmt.Printf("\n")
		fmt.Printf("%s - ", cmd.Name())
		cmd.Help()
	}

	nbExit(1)
}

func nbFail(err error) {
	nbUsage(nil, util.ChildNewtError(err))
}

func GetConfig() (*config.Config, error) {
	if globalCfg != nil {
		return globalCfg, nil
	}

	path := blutil.CfgPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if blutil.DevPath != "" {
		cfg.Serial.DevPath = blutil.DevPath
	}

	globalCfg = cfg
	return globalCfg, nil
}

func storePath(cfg *config.Config) (string, error) {
	path, err := config.ExpandPath(cfg.StorePath)
	if err != nil {
		return "", err
	}
	return path, nil
}

// Loads the persisted store if one exists; otherwise starts from factory
// contents carrying the configured device info.
func loadStore(cfg *config.Config) (backend.Store, error) {
	path, err := storePath(cfg)
	if err != nil {
		return backend.Store{}, err
	}

	if _, err := os.Stat(path); err == nil {
		st, err := backend.LoadStore(path)
		if err != nil {
			return backend.Store{}, util.FmtNewtError(
				"failed to load store %s: %s", path, err.Error())
		}
		log.Debugf("loaded store from %s; %d scans", path, len(st.Scans))
		return st, nil
	}

	st := backend.DefaultStore()
	st.Info = cfg.Device
	return st, nil
}

func buildSpectro(cfg *config.Config) (*backend.Spectro, error) {
	st, err := loadStore(cfg)
	if err != nil {
		return nil, err
	}

	sc := backend.NewSpectroCfg()
	sc.Store = &st
	return backend.NewSpectro(sc), nil
}

func saveStore(sp *backend.Spectro) {
	if globalStorePath == "" {
		return
	}

	if err := backend.SaveStore(globalStorePath, sp.Store()); err != nil {
		log.Errorf("failed to save store %s: %s", globalStorePath, err.Error())
		return
	}
	log.Debugf("saved store to %s", globalStorePath)
}

// Stops the peripheral and its transport if they are running and persists
// the spectrometer store.
func Shutdown() {
	shutdownMtx.Lock()
	defer shutdownMtx.Unlock()

	serveBlocker.Unblock(nil)

	p := globalPeriph
	globalPeriph = nil
	if p != nil {
		if p.State() == periph.PERIPH_STATE_STARTED {
			p.Stop()
		}
		saveStore(p.Spectro())
	}

	if hx := globalHostlink; hx != nil {
		globalHostlink = nil
		if err := hx.Stop(); err != nil {
			log.Debugf("hostlink stop: %s", err.Error())
		}
	}
}
