// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import "fmt"

// AccountName returns the default display name for an account number.
func AccountName(account uint32) string {
	return fmt.Sprintf("account-%d", account)
}

// ChainName returns the display name of the external or internal chain.
func ChainName(change bool) string {
	if change {
		return "change"
	}

	return "receive"
}
