package journal

import (
	"encoding/hex"
	"fmt"
)

// Key layout:
//
//	ev:<hex modem id>:<seq, 16 hex digits>  -> Entry JSON
//	id:<uuid>                               -> event key
//
// The modem id is hex encoded so one modem's prefix never matches another's.

func modemPrefix(modemID string) []byte {
	return []byte(fmt.Sprintf("ev:%s:", hex.EncodeToString([]byte(modemID))))
}

func eventKey(modemID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("ev:%s:%016x", hex.EncodeToString([]byte(modemID)), seq))
}

func idKey(id string) []byte {
	return []byte("id:" + id)
}

var allEventsPrefix = []byte("ev:")
