package parse

// crcPoly is the CRC-8 generator used by the sensor firmware.
const crcPoly = 0x4D

var crcTable = func() (t [256]byte) {
	for i := range t {
		crc := byte(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crcPoly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// Checksum returns the CRC-8 of the sync byte followed by the first 45 bytes
// of body (everything except the CRC byte itself).
func Checksum(body []byte) byte {
	crc := crcTable[SyncByte]
	n := offsetCRC
	if len(body) < n {
		n = len(body)
	}
	for _, b := range body[:n] {
		crc = crcTable[crc^b]
	}
	return crc
}
