package sim

import "fmt"

// HexU32 and HexU64 lazy-format integer attributes for logging.
type HexU32 uint32

func (v HexU32) String() string {
	return fmt.Sprintf("%08x", uint32(v))
}

func (v HexU32) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

type HexU64 uint64

func (v HexU64) String() string {
	return fmt.Sprintf("%016x", uint64(v))
}

func (v HexU64) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}
