package input

// Key identifies a physical key, independent of modifier state.
type Key int

const (
	KeyUnknown Key = iota
	KeyA
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
	KeyG
	KeyH
	KeyI
	KeyJ
	KeyK
	KeyL
	KeyM
	KeyN
	KeyO
	KeyP
	KeyQ
	KeyR
	KeyS
	KeyT
	KeyU
	KeyV
	KeyW
	KeyX
	KeyY
	KeyZ
	Key0
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeyEnter
	KeyEscape
	KeyBackspace
	KeyTab
	KeySpace
	KeyLeftShift
	KeyRightShift
	KeyLeftCtrl
	KeyLeftAlt
	KeyCapsLock
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
)

// EventKind distinguishes a key/button transition direction.
type EventKind int

const (
	Press EventKind = iota
	Release
)

// Modifiers is a bitmask of currently-held modifier keys.
type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModCtrl
	ModAlt
)

// KeyEvent is what the scancode decoder emits for each complete
// make/break code.
type KeyEvent struct {
	Key       Key
	Modifiers Modifiers
	Kind      EventKind
}

// scanCodeSet1 maps unprefixed (non-extended) make codes to keys.
var scanCodeSet1 = map[byte]Key{
	0x01: KeyEscape,
	0x02: Key1,
	0x03: Key2,
	0x04: Key3,
	0x05: Key4,
	0x06: Key5,
	0x07: Key6,
	0x08: Key7,
	0x09: Key8,
	0x0A: Key9,
	0x0B: Key0,
	0x0E: KeyBackspace,
	0x0F: KeyTab,
	0x10: KeyQ,
	0x11: KeyW,
	0x12: KeyE,
	0x13: KeyR,
	0x14: KeyT,
	0x15: KeyY,
	0x16: KeyU,
	0x17: KeyI,
	0x18: KeyO,
	0x19: KeyP,
	0x1C: KeyEnter,
	0x1D: KeyLeftCtrl,
	0x1E: KeyA,
	0x1F: KeyS,
	0x20: KeyD,
	0x21: KeyF,
	0x22: KeyG,
	0x23: KeyH,
	0x24: KeyJ,
	0x25: KeyK,
	0x26: KeyL,
	0x2A: KeyLeftShift,
	0x2C: KeyZ,
	0x2D: KeyX,
	0x2E: KeyC,
	0x2F: KeyV,
	0x30: KeyB,
	0x31: KeyN,
	0x32: KeyM,
	0x36: KeyRightShift,
	0x38: KeyLeftAlt,
	0x39: KeySpace,
	0x3A: KeyCapsLock,
}

// scanCodeSet1Extended maps E0-prefixed make codes to keys.
var scanCodeSet1Extended = map[byte]Key{
	0x48: KeyUp,
	0x50: KeyDown,
	0x4B: KeyLeft,
	0x4D: KeyRight,
}

const breakBit = 0x80

// KeyboardDecoder is a PS/2 scancode-set-1 state machine: it tracks the E0
// escape prefix and current modifier state across calls, and resynchronizes
// on the next complete code after any byte it doesn't recognize, so a
// dropped byte costs at most one lost event and never corrupts state (spec
// §4.4).
type KeyboardDecoder struct {
	extended  bool
	modifiers Modifiers
}

// Feed processes one raw scancode byte, returning the decoded event (if
// the byte completed one) and whether one was produced.
func (d *KeyboardDecoder) Feed(b byte) (KeyEvent, bool) {
	if b == 0xE0 {
		d.extended = true
		return KeyEvent{}, false
	}

	extended := d.extended
	d.extended = false

	release := b&breakBit != 0
	code := b &^ breakBit

	table := scanCodeSet1
	if extended {
		table = scanCodeSet1Extended
	}

	key, ok := table[code]
	if !ok {
		return KeyEvent{}, false
	}

	kind := Press
	if release {
		kind = Release
	}

	switch key {
	case KeyLeftShift, KeyRightShift:
		d.setModifier(ModShift, kind)
	case KeyLeftCtrl:
		d.setModifier(ModCtrl, kind)
	case KeyLeftAlt:
		d.setModifier(ModAlt, kind)
	}

	return KeyEvent{Key: key, Modifiers: d.modifiers, Kind: kind}, true
}

func (d *KeyboardDecoder) setModifier(m Modifiers, kind EventKind) {
	if kind == Press {
		d.modifiers |= m
	} else {
		d.modifiers &^= m
	}
}
