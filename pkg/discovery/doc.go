// Package discovery advertises kTLS servers over mDNS/DNS-SD.
//
// Servers register one instance of the _ktls._tcp service. The TXT record
// tells clients what the server can do before they connect:
//
//	ver   TLS protocol versions, comma separated (e.g. "1.2")
//	cs    cipher suites the kernel can take over, comma separated
//	ktls  "1" when kernel TLS transmit offload is available
//	sf    "1" when files are served with zero-copy sendfile
//
// Additional "key=value" strings from the configuration are passed through
// unchanged.
package discovery
