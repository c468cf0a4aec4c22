package dlm

import (
	"net"
	"os"
	"strings"
)

var (
	osHostname = os.Hostname
	lookupHost = net.LookupHost
	lookupAddr = net.LookupAddr
)

// FQDN returns the fully qualified name of this host, the identity the lock is
// held under. When the resolver knows no dotted name for the host, the plain
// hostname is returned.
func FQDN() (string, error) {
	host, err := osHostname()
	if err != nil {
		return "", err
	}
	if strings.Contains(host, ".") {
		return host, nil
	}
	addrs, err := lookupHost(host)
	if err != nil {
		return host, nil
	}
	for _, addr := range addrs {
		names, err := lookupAddr(addr)
		if err != nil {
			continue
		}
		for _, name := range names {
			name = strings.TrimSuffix(name, ".")
			if strings.Contains(name, ".") {
				return name, nil
			}
		}
	}
	return host, nil
}
