package state

import "encoding/binary"

var (
	jobCounterKeyBytes = []byte("market/counter")
	jobRecordPrefix    = []byte("market/job/")
	accountPrefix      = []byte("account/")
	genesisAppliedKey  = []byte("genesis/applied")
)

// JobCounterKey returns the key holding the highest assigned job id.
func JobCounterKey() []byte { return append([]byte(nil), jobCounterKeyBytes...) }

// JobKey returns the key of a job record. Ids are big-endian so records sort in
// id order.
func JobKey(id uint64) []byte {
	buf := make([]byte, len(jobRecordPrefix)+8)
	copy(buf, jobRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(jobRecordPrefix):], id)
	return buf
}

// AccountKey returns the key of an account record.
func AccountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}
