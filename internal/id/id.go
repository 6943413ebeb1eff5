package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes used for records owned by the margin engine.
const (
	Account     = "acct"
	Position    = "pos"
	Liquidation = "liq"
	Posting     = "pst"
)

var (
	mu   sync.Mutex
	mono io.Reader
	now  = time.Now
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Monotonic entropy keeps ids minted in the same millisecond ordered.
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string. ULIDs sort by creation time, so journal
// tables keyed by them come back in insertion order.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now().UTC()), mono)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// With returns a ULID tagged with a record prefix, e.g. "pos_01HV...".
func With(prefix string) string {
	if prefix == "" {
		return New()
	}
	return prefix + "_" + New()
}
