package state

import "fmt"

var (
	escrowRecordKeyBytes = []byte("escrow/record")
	eventCountKeyBytes   = []byte("escrow/events/count")
	eventEntryKeyFormat  = "escrow/events/%020d"
	genesisKeyBytes      = []byte("genesis/applied")
)

func eventEntryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf(eventEntryKeyFormat, seq))
}
