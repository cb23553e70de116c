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

// Package cmd holds implementations of the kcsim commands.
package cmd

import (
	"fmt"
	"os"

	"gvisor.dev/kcore/kcsim/config"
	"gvisor.dev/kcore/pkg/log"
)

// Fatalf logs to stderr and to the log, then exits with an error status.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(os.Stderr, "kcsim: %s\n", msg)
	os.Exit(128)
}

// configFrom returns the configuration passed to Execute.
func configFrom(args []any) *config.Config {
	if len(args) == 0 {
		Fatalf("missing configuration")
	}
	conf, ok := args[0].(*config.Config)
	if !ok {
		Fatalf("unexpected argument %T, want *config.Config", args[0])
	}
	return conf
}
