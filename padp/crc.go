package padp

// crcTable is the CRC-16/CCITT table for polynomial 0x1021.
var crcTable = func() [256]uint16 {
	var t [256]uint16
	for i := range t {
		crc := uint16(i) << 8 //nolint:gosec
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}

	return t
}()

// crc16 computes the CRC-16/CCITT of data with an initial value of zero, the
// variant used by the Serial Link Protocol trailer.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}

	return crc
}
