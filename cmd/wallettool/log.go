// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/hwy419/bitcoin-wallet-sub018/extkey"
	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/btcunit"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/txfee"
	"github.com/hwy419/bitcoin-wallet-sub018/waddrmgr"
	"github.com/hwy419/bitcoin-wallet-sub018/wallet"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard error and
// the write-end pipe of an initialized log rotator. Standard output is kept
// clean for command results.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stderr.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}

	return len(p), nil
}

// Loggers per subsystem. A single backend logger is created and all
// subsystem loggers created from it will write to the backend. When adding
// new subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling initLogRotator.
var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	log     = backendLog.Logger("WTOL")
	keycLog = backendLog.Logger("KEYC")
	extkLog = backendLog.Logger("EXTK")
	amgrLog = backendLog.Logger("AMGR")
	txfeLog = backendLog.Logger("TXFE")
	unitLog = backendLog.Logger("UNIT")
	btwlLog = backendLog.Logger("BTWL")
)

// Initialize package-global logger variables.
func init() {
	keychain.UseLogger(keycLog)
	extkey.UseLogger(extkLog)
	waddrmgr.UseLogger(amgrLog)
	txfee.UseLogger(txfeLog)
	btcunit.UseLogger(unitLog)
	wallet.UseLogger(btwlLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"WTOL": log,
	"KEYC": keycLog,
	"EXTK": extkLog,
	"AMGR": amgrLog,
	"TXFE": txfeLog,
	"UNIT": unitLog,
	"BTWL": btwlLog,
}

// initLogRotator initializes the logging rotater to write logs to logFile
// and create roll files in the same directory. It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	logRotator = r

	return nil
}

// setLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored. Uninitialized subsystems are dynamically created as
// needed.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level. It also dynamically creates the subsystem loggers as needed, so it
// can be used to initialize the logging system.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	sort.Strings(subsystems)

	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly. An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") &&
		!strings.Contains(debugLevel, "=") {

		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", debugLevel)
		}

		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while
	// detecting issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains "+
				"an invalid subsystem/level pair [%v]",
				logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := subsystemLoggers[subsysID]; !exists {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems %v", subsysID,
				supportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}
