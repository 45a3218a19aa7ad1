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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/newt/util"
	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/nanoble/blutil"
)

var NanobleLogLevel log.Level

func Commands() *cobra.Command {
	logLevelStr := ""
	nbCmd := &cobra.Command{
		Use:   blutil.ToolInfo.ExeName,
		Short: blutil.ToolInfo.ShortName + " runs the spectrometer's BLE peripheral",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg, err := GetConfig()
			if err != nil {
				nbUsage(nil, util.ChildNewtError(err))
			}

			// The flag wins over the config file.
			if logLevelStr == "" {
				logLevelStr = cfg.LogLevel
			}

			NanobleLogLevel, err = log.ParseLevel(logLevelStr)
			if err != nil {
				nbUsage(nil, util.ChildNewtError(err))
			}

			err = util.Init(NanobleLogLevel, "", util.VERBOSITY_DEFAULT)
			if err != nil {
				nbUsage(nil, err)
			}
			blxutil.SetLogLevel(NanobleLogLevel)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	nbCmd.PersistentFlags().StringVarP(&logLevelStr, "loglevel", "l", "",
		"log level to use; overrides the config file")

	nbCmd.PersistentFlags().StringVarP(&blutil.CfgPath, "config", "f", "",
		"path of the config file (default ~/"+
			blutil.ToolInfo.CfgFilename+")")

	nbCmd.PersistentFlags().StringVarP(&blutil.DevPath, "dev", "d", "",
		"serial device of the BLE coprocessor; overrides the config file")

	versCmd := &cobra.Command{
		Use:     "version",
		Short:   "Display the " + blutil.ToolInfo.ShortName + " version number",
		Example: "  " + blutil.ToolInfo.ExeName + " version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n",
				blutil.ToolInfo.LongName,
				blutil.ToolInfo.VersionString)
		},
	}
	nbCmd.AddCommand(versCmd)

	nbCmd.AddCommand(serveCmd())
	nbCmd.AddCommand(simCmd())
	nbCmd.AddCommand(storeCmd())
	nbCmd.AddCommand(interactiveCmd())

	return nbCmd
}
