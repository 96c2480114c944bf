// Copyright (C) 2026 tigestd Authors.
// All rights reserved. This file is part of tigestd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

// Kind is the closed, versioned enumeration of record kinds a sensor may
// stream. Each kind maps one-to-one onto a column family (see Families).
type Kind uint32

const (
	KindConnection Kind = iota
	KindDNS
	KindHTTP
	KindRDP
	KindSMTP
	KindNTLM
	KindKerberos
	KindSSH
	KindDCERPC
	KindFTP
	KindMQTT
	KindLDAP
	KindTLS
	KindSMB
	KindNFS
	KindGenericLog
	KindPeriodicSeries
	KindOperationalLog
	KindStatistics
	KindPacket
	KindSysmon
	KindNetflowV5
	KindNetflowV9
	KindSecurityLog
)

// familyNames gives every Kind its column family name. Family names are
// stable on-disk identifiers: do not renumber or rename existing entries.
var familyNames = map[Kind]string{
	KindConnection:     "connection",
	KindDNS:            "dns",
	KindHTTP:           "http",
	KindRDP:            "rdp",
	KindSMTP:           "smtp",
	KindNTLM:           "ntlm",
	KindKerberos:       "kerberos",
	KindSSH:            "ssh",
	KindDCERPC:         "dcerpc",
	KindFTP:            "ftp",
	KindMQTT:           "mqtt",
	KindLDAP:           "ldap",
	KindTLS:            "tls",
	KindSMB:            "smb",
	KindNFS:            "nfs",
	KindGenericLog:     "log",
	KindPeriodicSeries: "series",
	KindOperationalLog: "oplog",
	KindStatistics:     "stats",
	KindPacket:         "packet",
	KindSysmon:         "sysmon",
	KindNetflowV5:      "netflow5",
	KindNetflowV9:      "netflow9",
	KindSecurityLog:    "seclog",
}

// FamilySources is the extra, record-less column family holding the sensor
// roster (sensor -> last-seen timestamp).
const FamilySources = "sources"

// FamilyName returns the on-disk column family name for k, and false if k is
// not a known kind.
func FamilyName(k Kind) (string, bool) {
	name, ok := familyNames[k]
	return name, ok
}

// networkKinds are the kinds whose key layout is the plain
// `sensor \0 ts` form ("all other network events" in the key schema table).
var networkKinds = map[Kind]bool{
	KindConnection: true,
	KindDNS:        true,
	KindHTTP:       true,
	KindRDP:        true,
	KindSMTP:       true,
	KindNTLM:       true,
	KindKerberos:   true,
	KindSSH:        true,
	KindDCERPC:     true,
	KindFTP:        true,
	KindMQTT:       true,
	KindLDAP:       true,
	KindTLS:        true,
	KindSMB:        true,
	KindNFS:        true,
	KindSysmon:     true,
	KindNetflowV5:  true,
	KindNetflowV9:  true,
}

// IsNetworkKind reports whether k uses the plain sensor-prefixed key layout
// and therefore participates in the retention sweeper's range-delete path
// rather than its prefix-scan path.
func IsNetworkKind(k Kind) bool {
	return networkKinds[k]
}
