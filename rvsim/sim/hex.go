package sim

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Hex image record types.
const (
	recData            = 0x00
	recEndOfFile       = 0x01
	recExtendedLinear  = 0x04
	recStartLinearAddr = 0x05

	// count byte + 16-bit offset + type byte + checksum byte
	recOverhead = 5
)

// LoadImage reads a hex-format program image into memory and returns the
// start address from the image's type-05 record, or 0 if the image has
// none. Memory written by earlier loads is left in place; the image's
// bytes overwrite only the addresses its data records cover.
func (m *Memory) LoadImage(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	return m.loadImage(f)
}

func (m *Memory) loadImage(r io.Reader) (uint64, error) {
	var entry uint64
	var base uint64 // upper 16 bits of the 32-bit load address

	scanner := bufio.NewScanner(r)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] != ':' {
			return 0, fmt.Errorf("line %d: record does not start with ':'", lineNum)
		}
		rec, err := hex.DecodeString(line[1:])
		if err != nil {
			return 0, fmt.Errorf("line %d: invalid hex: %w", lineNum, err)
		}
		if len(rec) < recOverhead {
			return 0, fmt.Errorf("line %d: record too short (%d bytes)", lineNum, len(rec))
		}
		count := int(rec[0])
		if len(rec) != count+recOverhead {
			return 0, fmt.Errorf("line %d: byte count %d does not match record length %d", lineNum, count, len(rec))
		}
		var sum byte
		for _, b := range rec {
			sum += b
		}
		if sum != 0 {
			return 0, fmt.Errorf("line %d: checksum mismatch", lineNum)
		}

		offset := uint64(binary.BigEndian.Uint16(rec[1:3]))
		payload := rec[4 : 4+count]

		switch rec[3] {
		case recData:
			addr := base<<16 | offset
			for i, b := range payload {
				m.setByte(addr+uint64(i), b)
			}
		case recEndOfFile:
			return entry, nil
		case recExtendedLinear:
			if count != 2 {
				return 0, fmt.Errorf("line %d: extended linear address record with %d data bytes", lineNum, count)
			}
			base = uint64(binary.BigEndian.Uint16(payload))
		case recStartLinearAddr:
			if count != 4 {
				return 0, fmt.Errorf("line %d: start linear address record with %d data bytes", lineNum, count)
			}
			entry = uint64(binary.BigEndian.Uint32(payload))
		default:
			return 0, fmt.Errorf("line %d: unsupported record type %#02x", lineNum, rec[3])
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read image: %w", err)
	}
	return entry, nil
}
