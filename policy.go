package connector

import "github.com/DougAnderson444/ArweaveWalletConnector/event"

// The wallet owns the usePopup flag through its verified method, so
// requests route through whatever surface the wallet asked for. keepPopup
// is shared: the app flips it through SetKeepPopup, the wallet through its
// own verified method, and only the app-side flip may open the window.

// SetKeepPopup flips the keep-alive policy. Turning it on opens the popup
// immediately, bypassing the usePopup policy; turning it off lets the
// popup close as soon as no popup-bound request remains.
func (b *Bridge) SetKeepPopup(v bool) {
	b.applyKeepPopup(v, true)
}

// applyKeepPopup is shared by the public setter and the wallet's verified
// keepPopup method; only the former may open the popup.
func (b *Bridge) applyKeepPopup(v, openOnTrue bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.keepPopup = v
	if v && openOnTrue {
		b.openPopupLocked(true)
	}
	b.mu.Unlock()

	b.emit(BuiltinEvent{Base: event.NewBase(), KeepPopup: &v})
	if !v {
		b.scheduleAutoClose()
	}
}

// KeepPopup reports the keep-alive policy.
func (b *Bridge) KeepPopup() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keepPopup
}

// UsePopup reports whether requests are routed through the popup as well.
func (b *Bridge) UsePopup() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usePopup
}

// setUsePopup records the wallet's routing preference. The popup itself
// opens lazily at the next delivery and closes through the settlement
// auto-close check, so the flag flip has no window side effects.
func (b *Bridge) setUsePopup(v bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.usePopup = v
	b.mu.Unlock()

	b.emit(BuiltinEvent{Base: event.NewBase(), UsePopup: &v})
}
