package state

var (
	positionPrefix     = []byte("position/")
	tokenPrefix        = []byte("token/meta/")
	tokenBalancePrefix = []byte("token/balance/")
	tokenWrappedKey    = []byte("token/wrapped-native")
	accountPrefix      = []byte("account/")
	coinBalancePrefix  = []byte("coin/balance/")
	coinSupplyKey      = []byte("coin/supply")
	coinRecordPrefix   = []byte("coin/position/")
	hubChallengePrefix = []byte("hub/challenge/")
	hubPendingPrefix   = []byte("hub/pending/")
	hubMetaKey         = []byte("hub/meta")
	leadrateKey        = []byte("rate/lead")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part)
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for _, part := range parts {
		key = append(key, part...)
	}
	return key
}
