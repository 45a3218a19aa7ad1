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
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/cheggaaa/pb.v1"

	"mynewt.apache.org/newt/util"
	"nirscan.io/nanoble/blexact/backend"
	"nirscan.io/nanoble/blexact/bledefs"
	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/devstate"
	"nirscan.io/nanoble/blexact/gatts"
	"nirscan.io/nanoble/blexact/liaison"
	"nirscan.io/nanoble/nanoble/blutil"
)

type simOpts struct {
	Mtu      int
	NumScans int
	Progress bool
	Out      io.Writer
}

type simReport struct {
	Info        map[string]string
	MatrixLen   int
	ScanNames   []string
	ScanLens    []int
	Stats       liaison.Stats
	ConnectedAt time.Time
}

var simMtu int
var simNumScans int
var simNoProgress bool
var simSave bool

func (o *simOpts) progressFn(name string, total int) (func(int), func()) {
	if !o.Progress || total <= 0 {
		return nil, func() {}
	}

	bar := pb.New(total)
	bar.SetUnits(pb.U_BYTES)
	bar.Output = o.Out
	bar.Prefix(name + " ")
	bar.Start()

	return func(n int) { bar.Add(n) }, bar.Finish
}

func simAttr(c *central, svc string, chr string) *gatts.Attr {
	a, err := c.attr(svc, chr)
	blxutil.Assert(err == nil)
	return a
}

// Runs a complete client session: identify the device, download its
// calibration matrix, take scans and retrieve each one.
func runSim(c *central, opts simOpts) (simReport, error) {
	rep := simReport{Info: map[string]string{}}

	if err := c.connect(1, opts.Mtu); err != nil {
		return rep, err
	}
	rep.ConnectedAt = time.Now()
	fmt.Fprintf(opts.Out, "connected; mtu=%d chunk=%d\n", opts.Mtu,
		c.p.Liaison().ChunkSize())

	for _, chr := range []string{
		"manufacturer", "model", "serial", "hw_rev", "fw_rev",
	} {
		val, err := c.read(simAttr(c, gatts.SVC_NAME_DIS, chr))
		if err != nil {
			return rep, err
		}
		rep.Info[chr] = string(val)
		fmt.Fprintf(opts.Out, "%-13s %s\n", chr+":", val)
	}

	errAttr := simAttr(c, gatts.SVC_NAME_GIS, "error_status")
	if err := c.subscribe(errAttr, bledefs.BLE_GATT_CCD_INDICATE); err != nil {
		return rep, err
	}

	dt := devstate.DateTimeFromTime(time.Now())
	err := c.write(simAttr(c, gatts.SVC_NAME_GDTS, "set_date_time"), dt.Bytes())
	if err != nil {
		return rep, err
	}

	matrix := simAttr(c, gatts.SVC_NAME_GCIS, "ref_cal_matrix")
	if err := c.subscribe(matrix, bledefs.BLE_GATT_CCD_NOTIFY); err != nil {
		return rep, err
	}
	add, done := opts.progressFn("ref_cal_matrix",
		len(c.p.Spectro().Store().RefCalMatrix))
	data, err := c.readLarge(matrix, add)
	done()
	if err != nil {
		return rep, err
	}
	rep.MatrixLen = len(data)

	start := simAttr(c, gatts.SVC_NAME_GSDIS, "start_scan")
	if err := c.subscribe(start, bledefs.BLE_GATT_CCD_NOTIFY); err != nil {
		return rep, err
	}
	for i := 0; i < opts.NumScans; i++ {
		mark := len(c.x.Calls())
		if err := c.write(start, nil); err != nil {
			return rep, err
		}

		st := c.pushedSince(start, mark)
		if len(st) == 0 || len(st[0].Data) == 0 ||
			st[0].Data[0] != backend.SCAN_STATUS_COMPLETE {

			return rep, fmt.Errorf("scan %d did not complete", i)
		}
		if err := c.bufferEmpty(); err != nil {
			return rep, err
		}
	}

	raw, err := c.read(simAttr(c, gatts.SVC_NAME_GSDIS, "num_scans"))
	if err != nil {
		return rep, err
	}
	if len(raw) != 4 {
		return rep, fmt.Errorf("num_scans: unexpected length %d", len(raw))
	}
	numScans := binary.LittleEndian.Uint32(raw)
	fmt.Fprintf(opts.Out, "stored scans: %d\n", numScans)

	nameRet := simAttr(c, gatts.SVC_NAME_GSDIS, "ret_scan_name")
	dataRet := simAttr(c, gatts.SVC_NAME_GSDIS, "ret_scan_data")
	if err := c.subscribe(nameRet, bledefs.BLE_GATT_CCD_NOTIFY); err != nil {
		return rep, err
	}
	if err := c.subscribe(dataRet, bledefs.BLE_GATT_CCD_INDICATE); err != nil {
		return rep, err
	}

	scans := c.p.Spectro().Store().Scans
	for i := uint32(0); i < numScans; i++ {
		idx := devstate.PutUint32(i)

		name, err := c.fetch(
			simAttr(c, gatts.SVC_NAME_GSDIS, "req_scan_name"), nameRet, idx,
			-1, nil)
		if err != nil {
			return rep, err
		}

		add, done := opts.progressFn(string(name), len(scans[i].Blob))
		blob, err := c.fetch(
			simAttr(c, gatts.SVC_NAME_GSDIS, "req_scan_data"), dataRet, idx,
			len(scans[i].Blob), add)
		done()
		if err != nil {
			return rep, err
		}

		rep.ScanNames = append(rep.ScanNames, string(name))
		rep.ScanLens = append(rep.ScanLens, len(blob))
		fmt.Fprintf(opts.Out, "scan %d: %s (%d bytes)\n", i, name, len(blob))
	}

	if err := c.disconnect(bledefs.ERR_CODE_HCI_REM_USER_TERM); err != nil {
		return rep, err
	}

	rep.Stats = c.p.Liaison().Stats()
	fmt.Fprintf(opts.Out,
		"session done in %s; accepted=%d completed=%d failed=%d "+
			"rejected=%d chunks=%d\n",
		time.Since(rep.ConnectedAt).Round(time.Millisecond),
		rep.Stats.Accepted, rep.Stats.Completed, rep.Stats.Failed,
		rep.Stats.Rejected, rep.Stats.Chunks)

	return rep, nil
}

func simRunCmd(cmd *cobra.Command, args []string) {
	if simMtu < bledefs.BLE_ATT_MTU_DFLT || simMtu > bledefs.BLE_ATT_MTU_MAX {
		nbUsage(cmd, util.FmtNewtError("invalid mtu %d; must be in [%d, %d]",
			simMtu, bledefs.BLE_ATT_MTU_DFLT, bledefs.BLE_ATT_MTU_MAX))
	}
	if simNumScans < 0 {
		nbUsage(cmd, util.FmtNewtError("invalid scan count %d", simNumScans))
	}

	cfg, err := GetConfig()
	if err != nil {
		nbFail(err)
	}

	sp, err := buildSpectro(cfg)
	if err != nil {
		nbFail(err)
	}

	c, err := newCentral(sp, nil)
	if err != nil {
		nbFail(err)
	}

	_, err = runSim(c, simOpts{
		Mtu:      simMtu,
		NumScans: simNumScans,
		Progress: !simNoProgress,
		Out:      os.Stdout,
	})
	c.stop()
	if err != nil {
		nbFail(err)
	}

	if simSave {
		path, err := storePath(cfg)
		if err != nil {
			nbFail(err)
		}
		if err := backend.SaveStore(path, sp.Store()); err != nil {
			nbFail(err)
		}
		log.Infof("store saved to %s", path)
	}
}

func simCmd() *cobra.Command {
	simCmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a scripted client session against the peripheral",
		Long: "Drives the peripheral with an in-memory central: reads the " +
			"device information, downloads the reference calibration " +
			"matrix, takes scans and retrieves them chunk by chunk.",
		Example: "  " + blutil.ToolInfo.ExeName + " sim\n" +
			"  " + blutil.ToolInfo.ExeName + " sim --mtu 247 --scans 3",
		Run: simRunCmd,
	}

	simCmd.Flags().IntVar(&simMtu, "mtu", bledefs.BLE_ATT_MTU_DFLT,
		"ATT MTU negotiated by the simulated central")
	simCmd.Flags().IntVar(&simNumScans, "scans", 2, "number of scans to take")
	simCmd.Flags().BoolVar(&simNoProgress, "no-progress", false,
		"don't display progress bars")
	simCmd.Flags().BoolVar(&simSave, "save", false,
		"persist the store after the session")

	return simCmd
}
