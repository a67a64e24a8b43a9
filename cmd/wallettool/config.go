// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/hwy419/bitcoin-wallet-sub018/extkey"
)

const (
	defaultNetwork     = "testnet"
	defaultLogLevel    = "info"
	defaultLogDirname  = "logs"
	defaultLogFilename = "wallettool.log"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("wallettool", false)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

// config holds the options shared by every command.
type config struct {
	Network    string `short:"n" long:"network" description:"Bitcoin network: mainnet, testnet, regtest or signet"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	NoLogFile  bool   `long:"nologfile" description:"Only log to standard error"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	// net and keyNet are resolved from Network by setup.
	net    *chaincfg.Params
	keyNet extkey.Network
}

// cfg is the global configuration filled in by the flag parser.
var cfg = config{
	Network:    defaultNetwork,
	LogDir:     defaultLogDir,
	DebugLevel: defaultLogLevel,
}

// setup resolves the network and initializes logging. It runs once the
// flags are parsed and before the selected command executes.
func (c *config) setup() error {
	// Special show command to list supported subsystems and exit.
	if c.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	keyNet, net, err := extkey.ParseNetwork(c.Network)
	if err != nil {
		return err
	}
	c.keyNet, c.net = keyNet, net

	// Append the network type to the log directory so it is
	// "namespaced" per network in the same fashion as the data
	// directory.
	if !c.NoLogFile {
		logDir := filepath.Join(cleanAndExpandPath(c.LogDir), net.Name)
		err := initLogRotator(filepath.Join(logDir, defaultLogFilename))
		if err != nil {
			return err
		}
	}

	if err := parseAndSetDebugLevels(c.DebugLevel); err != nil {
		return err
	}

	log.Debugf("Using network %s", net.Name)

	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultAppDataDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
