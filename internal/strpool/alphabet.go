package strpool

// codedAlphabet maps a 6-bit coded value back to its ASCII character for the
// restricted small+ string encoding: [a-z][A-Z][0-9][_-].
const codedAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"

// asciiToCode maps an ASCII byte to its 6-bit coded value, or 127 if the byte
// falls outside the restricted alphabet.
var asciiToCode [256]byte

func init() {
	for i := range asciiToCode {
		asciiToCode[i] = 127
	}
	for i := 0; i < len(codedAlphabet); i++ {
		asciiToCode[codedAlphabet[i]] = byte(i)
	}
}
