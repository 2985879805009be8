// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-ndnkeychain.
//
// go-ndnkeychain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package schema embeds the ndn-cxx PIB SQLite schema.
package schema

import _ "embed"

// PIB creates the tpmInfo, identities, keys and certificates tables, their
// unique name indexes and the is_default triggers used by ndn-cxx.
//
//go:embed pib.sql
var PIB string

// Tables lists the tables a snapshot must contain to be usable.
var Tables = []string{"tpmInfo", "identities", "keys", "certificates"}
