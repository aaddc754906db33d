package spartan

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueryLogWritesOneLinePerCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	ql, err := NewQueryLog(path)
	require.NoError(t, err)

	ql.LogQuery(newQueryID(), ClientInfo{SourceIP: net.ParseIP("127.0.0.1"), Protocol: "udp"},
		"example.com.", OutcomeDelivered, "1.2.3.4:53", 42*time.Millisecond)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "example.com.")
	require.Contains(t, string(data), OutcomeDelivered)
	require.Contains(t, string(data), "1.2.3.4:53")
}
