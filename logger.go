package spartan

import (
	"github.com/sirupsen/logrus"
)

// Log is the package-global logger used throughout the forwarder. Callers
// may replace it or reconfigure it (level, output, formatter) before
// starting any listeners.
var Log = logrus.New()

// queryLogger returns a logging entry pre-populated with the fields every
// per-query log line should carry, so a single query's dispatch, winner,
// and drain lines can be grepped together by id.
func queryLogger(id QueryID, qname, protocol string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"query":    id.String(),
		"qname":    qname,
		"protocol": protocol,
	})
}
