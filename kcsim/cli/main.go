// Copyright 2026 The gVisor Authors.
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

// Package cli is the main entrypoint for kcsim.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"

	"gvisor.dev/kcore/kcsim/cmd"
	"gvisor.dev/kcore/kcsim/config"
	"gvisor.dev/kcore/pkg/log"
)

var configFile = flag.String("config", "", "path to a TOML file with the machine configuration. Flags override it.")

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf := config.Default()
	if *configFile != "" {
		var err error
		if conf, err = config.LoadFile(*configFile); err != nil {
			cmd.Fatalf("%v", err)
		}
	}
	if err := conf.ApplyFlags(flag.CommandLine); err != nil {
		cmd.Fatalf("%v", err)
	}
	if err := conf.Validate(); err != nil {
		cmd.Fatalf("%v", err)
	}

	var logFile io.Writer = os.Stderr
	if conf.LogFilename != "" {
		f, err := log.OpenFile(conf.LogFilename)
		if err != nil {
			cmd.Fatalf("%v", err)
		}
		logFile = f
	}
	emitter, err := log.NewEmitter(conf.LogFormat, logFile)
	if err != nil {
		cmd.Fatalf("%v", err)
	}
	log.SetTarget(emitter)
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	const delimString = `**************** kcsim ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, %d host CPUs, PID %d", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), os.Getpid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	code := subcommands.Execute(context.Background(), conf)
	if code != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", code)
	}
	// Deferred calls do not run on os.Exit.
	if f, ok := logFile.(*os.File); ok && f != os.Stderr {
		f.Close()
	}
	os.Exit(int(code))
}

// forEachCmd invokes the passed callback for each command supported by kcsim.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Inspect), "")
	cb(new(cmd.Mkimage), "")
	cb(new(cmd.Run), "")
}
