package deliver

// IsPlausible reports whether addr is usable as an envelope address: at
// least one byte, and every byte printable ASCII other than space.
// Nothing else about the address is checked.
func IsPlausible(addr string) bool {
	if addr == "" {
		return false
	}
	for i := 0; i < len(addr); i++ {
		if c := addr[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
