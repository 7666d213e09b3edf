package scanner

// Terminator is the character emitted for the Enter usage code. Scanners
// configured with a trailing Enter keystroke end every barcode with it.
const Terminator = '\n'

// HID keyboard usage codes, per the USB HID usage tables. Only the subset
// typical barcode payloads use is mapped; anything else decodes to nothing.
var keymap = map[byte]rune{
	4: 'a', 5: 'b', 6: 'c', 7: 'd', 8: 'e', 9: 'f', 10: 'g', 11: 'h',
	12: 'i', 13: 'j', 14: 'k', 15: 'l', 16: 'm', 17: 'n', 18: 'o', 19: 'p',
	20: 'q', 21: 'r', 22: 's', 23: 't', 24: 'u', 25: 'v', 26: 'w', 27: 'x',
	28: 'y', 29: 'z',
	30: '1', 31: '2', 32: '3', 33: '4', 34: '5', 35: '6', 36: '7', 37: '8',
	38: '9', 39: '0',
	40: Terminator,
	44: ' ', 45: '-', 46: '=', 47: '[', 48: ']', 49: '\\',
	51: ';', 52: '\'', 53: '`', 54: ',', 55: '.', 56: '/',
}

var shiftKeymap = map[byte]rune{
	4: 'A', 5: 'B', 6: 'C', 7: 'D', 8: 'E', 9: 'F', 10: 'G', 11: 'H',
	12: 'I', 13: 'J', 14: 'K', 15: 'L', 16: 'M', 17: 'N', 18: 'O', 19: 'P',
	20: 'Q', 21: 'R', 22: 'S', 23: 'T', 24: 'U', 25: 'V', 26: 'W', 27: 'X',
	28: 'Y', 29: 'Z',
	30: '!', 31: '@', 32: '#', 33: '$', 34: '%', 35: '^', 36: '&', 37: '*',
	38: '(', 39: ')',
	40: Terminator,
	45: '_', 46: '+', 47: '{', 48: '}', 49: '|',
	51: ':', 52: '"', 53: '~', 54: '<', 55: '>', 56: '?',
}

// Modifier byte bits for the left and right shift keys.
const shiftMask = 0x02 | 0x20

// DecodeReport decodes one raw HID input report into a character.
// Byte 0 carries the modifier flags, byte 2 the primary usage code.
// Idle reports (zero usage code) and unmapped codes return ok=false;
// HID devices emit a report per polling interval whether or not a key
// is down, so both are expected and not errors.
func DecodeReport(report []byte) (rune, bool) {
	if len(report) < 3 || report[2] == 0 {
		return 0, false
	}

	if report[0]&shiftMask != 0 {
		ch, ok := shiftKeymap[report[2]]
		return ch, ok
	}
	ch, ok := keymap[report[2]]
	return ch, ok
}
