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
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"gopkg.in/abiosoft/ishell.v2"

	"nirscan.io/nanoble/blexact/bledefs"
	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/gatts"
	"nirscan.io/nanoble/blexact/xport"
	"nirscan.io/nanoble/nanoble/blutil"
)

var ccdNames = map[string]uint16{
	"off":      0,
	"notify":   bledefs.BLE_GATT_CCD_NOTIFY,
	"indicate": bledefs.BLE_GATT_CCD_INDICATE,
	"both":     bledefs.BLE_GATT_CCD_NOTIFY | bledefs.BLE_GATT_CCD_INDICATE,
}

type console struct {
	c   *central
	mtu int
}

func (con *console) argAttr(ctx *ishell.Context, usage string) *gatts.Attr {
	if len(ctx.Args) < 2 {
		ctx.Println("usage: " + usage)
		return nil
	}

	a, err := con.c.attr(ctx.Args[0], ctx.Args[1])
	if err != nil {
		ctx.Println(err.Error())
		return nil
	}
	return a
}

func (con *console) report(ctx *ishell.Context, err error) {
	if err != nil {
		ctx.Println("error: " + err.Error())
	}
}

func (con *console) connect(ctx *ishell.Context) {
	connId := uint32(1)
	mtu := con.mtu

	var err error
	if len(ctx.Args) > 0 {
		if connId, err = cast.ToUint32E(ctx.Args[0]); err != nil {
			con.report(ctx, err)
			return
		}
	}
	if len(ctx.Args) > 1 {
		if mtu, err = cast.ToIntE(ctx.Args[1]); err != nil {
			con.report(ctx, err)
			return
		}
	}

	if err := con.c.connect(connId, mtu); err != nil {
		con.report(ctx, err)
		return
	}
	ctx.Printf("connected; %s\n", con.c.p.ConnMgr().Ctx())
}

func (con *console) disconnect(ctx *ishell.Context) {
	reason := bledefs.ERR_CODE_HCI_REM_USER_TERM
	if len(ctx.Args) > 0 {
		var err error
		if reason, err = cast.ToIntE(ctx.Args[0]); err != nil {
			con.report(ctx, err)
			return
		}
	}

	con.report(ctx, con.c.disconnect(reason))
}

func (con *console) mtuChange(ctx *ishell.Context) {
	if len(ctx.Args) < 1 {
		ctx.Println("usage: mtu <mtu>")
		return
	}

	mtu, err := cast.ToIntE(ctx.Args[0])
	if err != nil {
		con.report(ctx, err)
		return
	}

	con.report(ctx, con.c.post(&xport.MtuChangeEvt{
		ConnId: con.c.connId,
		Mtu:    mtu,
	}))
	ctx.Printf("chunk size: %d\n", con.c.p.Liaison().ChunkSize())
}

func (con *console) chrs(ctx *ishell.Context) {
	for _, svc := range con.c.p.Table().Services() {
		ctx.Printf("%s (%d) %s\n", svc.Name, svc.Id, svc.Uuid.String())
		for i := range svc.Chrs {
			chr := &svc.Chrs[i]
			a, _ := con.c.attr(svc.Name, chr.Name)
			ctx.Printf("    %-22s val=%-3d ccd=%-3d %s\n", chr.Name, a.ValOff,
				a.CcdOff, chr.Uuid.String())
		}
	}
}

func (con *console) read(ctx *ishell.Context) {
	a := con.argAttr(ctx, "read <svc> <chr>")
	if a == nil {
		return
	}

	data, err := con.c.readLarge(a, nil)
	if err != nil {
		con.report(ctx, err)
		return
	}
	ctx.Printf("%d bytes: %s\n", len(data), hex.EncodeToString(data))
}

func (con *console) write(ctx *ishell.Context) {
	a := con.argAttr(ctx, "write <svc> <chr> [hex]")
	if a == nil {
		return
	}

	var data []byte
	if len(ctx.Args) > 2 {
		var err error
		data, err = hex.DecodeString(strings.Join(ctx.Args[2:], ""))
		if err != nil {
			con.report(ctx, err)
			return
		}
	}

	con.report(ctx, con.c.write(a, data))
}

func (con *console) subscribe(ctx *ishell.Context) {
	a := con.argAttr(ctx, "sub <svc> <chr> <off|notify|indicate|both>")
	if a == nil {
		return
	}
	if len(ctx.Args) < 3 {
		ctx.Println("usage: sub <svc> <chr> <off|notify|indicate|both>")
		return
	}

	bits, ok := ccdNames[ctx.Args[2]]
	if !ok {
		// Raw descriptor values are allowed too.
		v, err := cast.ToUint16E(ctx.Args[2])
		if err != nil {
			con.report(ctx, err)
			return
		}
		bits = v
	}

	con.report(ctx, con.c.subscribe(a, bits))
}

// Writes a file request and collects the whole file from its partner.
func (con *console) fetch(ctx *ishell.Context) {
	a := con.argAttr(ctx, "fetch <svc> <req_chr> [idx]")
	if a == nil {
		return
	}
	if a.Chr.Write == nil || a.Chr.Write.Ret == "" {
		ctx.Printf("%s does not return a file\n", a)
		return
	}

	ret, err := con.c.attr(a.Svc.Name, a.Chr.Write.Ret)
	if err != nil {
		con.report(ctx, err)
		return
	}

	var idx []byte
	switch a.Chr.Write.MaxLen {
	case 0:
	case 2, 4:
		v := uint32(0)
		if len(ctx.Args) > 2 {
			if v, err = cast.ToUint32E(ctx.Args[2]); err != nil {
				con.report(ctx, err)
				return
			}
		}
		idx = make([]byte, a.Chr.Write.MaxLen)
		for i := range idx {
			idx[i] = byte(v >> (8 * uint(i)))
		}
	default:
		ctx.Printf("unsupported index length %d\n", a.Chr.Write.MaxLen)
		return
	}

	data, err := con.c.fetch(a, ret, idx, -1, nil)
	if err != nil {
		con.report(ctx, err)
		return
	}
	ctx.Printf("%d bytes: %s\n", len(data), hex.EncodeToString(data))

	// Records such as scan configurations are CBOR maps.
	if m, err := blxutil.DecodeCborMap(data); err == nil {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			ctx.Printf("    %s: %v\n", k, m[k])
		}
	}
}

func (con *console) confirm(ctx *ishell.Context) {
	ok, err := con.c.confirm()
	if err != nil {
		con.report(ctx, err)
		return
	}
	if !ok {
		ctx.Println("nothing to confirm")
	}
}

func (con *console) sensors(ctx *ishell.Context) {
	if len(ctx.Args) < 2 {
		ctx.Println("usage: sensors <temp_centi_c> <hum_centi_pct>")
		return
	}

	temp, err := cast.ToInt16E(ctx.Args[0])
	if err != nil {
		con.report(ctx, err)
		return
	}
	hum, err := cast.ToUint16E(ctx.Args[1])
	if err != nil {
		con.report(ctx, err)
		return
	}

	if err := con.c.p.UpdateSensors(temp, hum); err != nil {
		con.report(ctx, err)
		return
	}
	con.report(ctx, con.c.p.Drain())
}

func (con *console) busy(ctx *ishell.Context) {
	if len(ctx.Args) < 1 {
		ctx.Println("usage: busy <count>")
		return
	}

	n, err := cast.ToIntE(ctx.Args[0])
	if err != nil {
		con.report(ctx, err)
		return
	}
	con.c.x.BusyCount = n
}

func (con *console) status(ctx *ishell.Context) {
	ctx.Printf("link: ")
	if con.c.connected() {
		ctx.Printf("%s\n", con.c.p.ConnMgr().Ctx())
	} else {
		ctx.Printf("advertising\n")
	}

	ctx.Printf("liaison: %s\n", con.c.p.Liaison().Status())
	if d, ok := con.c.p.Liaison().Desc(); ok {
		ctx.Printf("    %s\n", d.String())
	}

	ctx.Println("registers:")
	for _, line := range fieldLines(con.c.p.Device().Registers(), "structs") {
		ctx.Println(line)
	}

	ctx.Println("liaison stats:")
	for _, line := range fieldLines(con.c.p.Liaison().Stats(), "structs") {
		ctx.Println(line)
	}
}

func (con *console) commands() []*ishell.Cmd {
	return []*ishell.Cmd{
		{
			Name: "connect",
			Help: "connect a central: connect [conn_id] [mtu]",
			Func: con.connect,
		},
		{
			Name: "disconnect",
			Help: "drop the link: disconnect [hci_reason]",
			Func: con.disconnect,
		},
		{
			Name: "mtu",
			Help: "renegotiate the ATT MTU: mtu <mtu>",
			Func: con.mtuChange,
		},
		{
			Name: "chrs",
			Help: "list services and characteristics",
			Func: con.chrs,
		},
		{
			Name: "read",
			Help: "read a characteristic: read <svc> <chr>",
			Func: con.read,
		},
		{
			Name: "write",
			Help: "write a characteristic: write <svc> <chr> [hex]",
			Func: con.write,
		},
		{
			Name: "sub",
			Help: "set a client configuration descriptor: " +
				"sub <svc> <chr> <off|notify|indicate|both>",
			Func: con.subscribe,
		},
		{
			Name: "fetch",
			Help: "request a file and collect it: fetch <svc> <req_chr> [idx]",
			Func: con.fetch,
		},
		{
			Name: "bufempty",
			Help: "signal that the link buffer drained",
			Func: func(ctx *ishell.Context) { con.report(ctx, con.c.bufferEmpty()) },
		},
		{
			Name: "confirm",
			Help: "confirm the last indication",
			Func: con.confirm,
		},
		{
			Name: "sensors",
			Help: "publish new sensor readings: sensors <temp> <hum>",
			Func: con.sensors,
		},
		{
			Name: "busy",
			Help: "refuse the next n notifications: busy <n>",
			Func: con.busy,
		},
		{
			Name: "status",
			Help: "display link, liaison and register state",
			Func: con.status,
		},
	}
}

func interactiveRunCmd(cmd *cobra.Command, args []string) {
	cfg, err := GetConfig()
	if err != nil {
		nbFail(err)
	}

	sp, err := buildSpectro(cfg)
	if err != nil {
		nbFail(err)
	}

	shell := ishell.New()
	shell.SetPrompt(blutil.ToolInfo.ExeName + "> ")

	c, err := newCentral(sp, func(call xport.Call) {
		shell.Println(fmt.Sprintf("<< %s %s", call,
			hex.EncodeToString(call.Data)))
	})
	if err != nil {
		nbFail(err)
	}
	defer c.stop()

	con := &console{c: c, mtu: cfg.Ble.PreferredMtu}
	for _, sc := range con.commands() {
		shell.AddCmd(sc)
	}

	shell.Println(blutil.ToolInfo.LongName + " interactive console")
	shell.Run()
	shell.Close()
}

func interactiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Drive the peripheral from an interactive console",
		Long: "Runs the peripheral over an in-memory transport and lets " +
			"you inject central events by hand.  Every packet the " +
			"peripheral sends is printed as it happens.",
		Run: interactiveRunCmd,
	}
}
