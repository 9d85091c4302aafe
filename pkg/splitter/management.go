package splitter

import "strings"

// managementPrefixes is the closed set of mType prefixes routed to the
// management queue; everything else goes to the network queue.
var managementPrefixes = []string{
	"mngDaemon_",
	"mngScheduler_",
	"mngService_",
	"iqrfDb_",
	"iqrfSensorData_",
}

// managementExact is the closed set of exact mType matches additionally
// routed to the management queue.
var managementExact = map[string]bool{
	"cfgDaemon_Component":     true,
	"ntfDaemon_InvokeMonitor": true,
}

// isManagementMessage reports whether mType belongs on the management
// queue rather than the network queue.
func isManagementMessage(mType string) bool {
	if managementExact[mType] {
		return true
	}
	for _, prefix := range managementPrefixes {
		if strings.HasPrefix(mType, prefix) {
			return true
		}
	}
	return false
}

const mngDaemonExit = "mngDaemon_Exit"
