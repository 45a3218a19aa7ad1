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
	"io"
	"os"
	"sort"

	"github.com/fatih/structs"
	"github.com/spf13/cobra"

	"mynewt.apache.org/newt/util"
	"nirscan.io/nanoble/blexact/backend"
	"nirscan.io/nanoble/nanoble/blutil"
)

var storeForce bool

type storeSummary struct {
	Manufacturer string `status:"manufacturer"`
	Model        string `status:"model"`
	Serial       string `status:"serial"`
	HwRev        string `status:"hw_rev"`
	FwRev        string `status:"fw_rev"`
	NumCfgs      int    `status:"num_cfgs"`
	ActiveCfg    string `status:"active_cfg"`
	NumScans     int    `status:"num_scans"`
	ScanSeq      uint32 `status:"scan_seq"`
	HoursOfUse   uint16 `status:"hours_of_use"`
	BattCycles   uint16 `status:"batt_recharge_cycles"`
	LampHours    uint32 `status:"lamp_hours"`
	SpecCalLen   int    `status:"spec_cal_coeffs_len"`
	RefCalLen    int    `status:"ref_cal_coeffs_len"`
	RefMatrixLen int    `status:"ref_cal_matrix_len"`
}

func summarizeStore(st backend.Store) storeSummary {
	active := "none"
	if int(st.ActiveCfg) < len(st.Cfgs) {
		active = fmt.Sprintf("%d (%s)", st.ActiveCfg,
			st.Cfgs[st.ActiveCfg].Name)
	}

	return storeSummary{
		Manufacturer: st.Info.Manufacturer,
		Model:        st.Info.Model,
		Serial:       st.Info.Serial,
		HwRev:        st.Info.HwRev,
		FwRev:        st.Info.FwRev,
		NumCfgs:      len(st.Cfgs),
		ActiveCfg:    active,
		NumScans:     len(st.Scans),
		ScanSeq:      st.ScanSeq,
		HoursOfUse:   st.HoursOfUse,
		BattCycles:   st.BattCycles,
		LampHours:    st.LampHours,
		SpecCalLen:   len(st.SpecCalCoeffs),
		RefCalLen:    len(st.RefCalCoeffs),
		RefMatrixLen: len(st.RefCalMatrix),
	}
}

// Formats every field of a struct as a sorted "key: value" list.
func fieldLines(val interface{}, tag string) []string {
	s := structs.New(val)
	s.TagName = tag
	m := s.Map()

	keys := make([]string, 0, len(m))
	width := 0
	for k := range m {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("    %-*s %v", width+1, k+":", m[k])
	}
	return lines
}

func printStore(w io.Writer, path string, st backend.Store) {
	fmt.Fprintf(w, "%s\n", path)
	for _, line := range fieldLines(summarizeStore(st), "status") {
		fmt.Fprintln(w, line)
	}

	if len(st.Scans) > 0 {
		fmt.Fprintf(w, "scans:\n")
		for i, sc := range st.Scans {
			fmt.Fprintf(w, "    %3d %-20s type=%d time=%s len=%d\n",
				i, sc.Name, sc.Type, sc.Time, len(sc.Blob))
		}
	}
}

func storeInitCmd(cmd *cobra.Command, args []string) {
	cfg, err := GetConfig()
	if err != nil {
		nbFail(err)
	}

	path, err := storePath(cfg)
	if err != nil {
		nbFail(err)
	}

	if _, err := os.Stat(path); err == nil && !storeForce {
		nbUsage(cmd, util.FmtNewtError(
			"store %s already exists; use --force to overwrite", path))
	}

	st := backend.DefaultStore()
	st.Info = cfg.Device

	if err := backend.SaveStore(path, st); err != nil {
		nbFail(err)
	}
	fmt.Printf("initialized store %s\n", path)
}

func storeShowCmd(cmd *cobra.Command, args []string) {
	cfg, err := GetConfig()
	if err != nil {
		nbFail(err)
	}

	path, err := storePath(cfg)
	if err != nil {
		nbFail(err)
	}

	st, err := backend.LoadStore(path)
	if err != nil {
		nbFail(err)
	}

	printStore(os.Stdout, path, st)
}

func storeCmd() *cobra.Command {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the persisted spectrometer store",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	initCmd := &cobra.Command{
		Use:     "init",
		Short:   "Write a store with factory calibration data",
		Example: "  " + blutil.ToolInfo.ExeName + " store init --force",
		Run:     storeInitCmd,
	}
	initCmd.Flags().BoolVar(&storeForce, "force", false,
		"overwrite an existing store")
	storeCmd.AddCommand(initCmd)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Display the contents of the store",
		Run:   storeShowCmd,
	}
	storeCmd.AddCommand(showCmd)

	return storeCmd
}
