//go:build linux

package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProcNetTCP(t *testing.T) {
	table := `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:1F48 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 41234 1 0000000000000000 100 0 0 10 0
   1: 0100007F:1F48 0100007F:C350 01 00000000:00000000 00:00000000 00000000  1000        0 41299 1 0000000000000000 20 4 30 10 -1
   2: 00000000:0BB9 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 51000 1 0000000000000000 100 0 0 10 0
`
	inodes, err := parseProcNetTCP(strings.NewReader(table), 8008)
	require.NoError(t, err)
	assert.Equal(t, []string{"41234"}, inodes)

	inodes, err = parseProcNetTCP(strings.NewReader(table), 3001)
	require.NoError(t, err)
	assert.Equal(t, []string{"51000"}, inodes)
}
