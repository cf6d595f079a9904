//go:build windows

package output

import (
	"context"
	"fmt"
	"syscall"
	"unicode/utf16"
	"unsafe"
)

var (
	user32        = syscall.NewLazyDLL("user32.dll")
	procSendInput = user32.NewProc("SendInput")
)

const (
	inputTypeKeyboard = 1
	keyEventKeyUp     = 0x0002
	keyEventUnicode   = 0x0004
)

// keyboardInput mirrors the Win32 KEYBDINPUT layout.
type keyboardInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

// inputEvent mirrors the Win32 INPUT layout for keyboard events. The
// padding keeps the struct at the size SendInput expects on 64-bit.
type inputEvent struct {
	inputType uint32
	ki        keyboardInput
	padding   uint64
}

// windowsTyper posts Unicode key events directly via SendInput. Injection
// is synchronous and fast; the context is only consulted up front.
type windowsTyper struct{}

func newTyper() (Typer, error) {
	return &windowsTyper{}, nil
}

func (t *windowsTyper) Type(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("output: context already cancelled: %w", err)
	}

	units := utf16.Encode([]rune(text))
	if len(units) == 0 {
		return nil
	}

	events := make([]inputEvent, 0, len(units)*2)
	for _, u := range units {
		events = append(events, inputEvent{
			inputType: inputTypeKeyboard,
			ki:        keyboardInput{wScan: u, dwFlags: keyEventUnicode},
		})
		events = append(events, inputEvent{
			inputType: inputTypeKeyboard,
			ki:        keyboardInput{wScan: u, dwFlags: keyEventUnicode | keyEventKeyUp},
		})
	}

	sent, _, callErr := procSendInput.Call(
		uintptr(len(events)),
		uintptr(unsafe.Pointer(&events[0])),
		uintptr(unsafe.Sizeof(events[0])),
	)
	if int(sent) != len(events) {
		return fmt.Errorf("output: SendInput injected %d of %d events: %v", sent, len(events), callErr)
	}
	return nil
}
