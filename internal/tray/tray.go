// Package tray provides a system tray menu for running the birthday
// greeting on a host with a local camera.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle func(enabled bool)
	onOpen   func()
	onReset  func()
	onQuit   func()
	enabled  bool
	mu       sync.RWMutex

	menuToggle    *systray.MenuItem
	menuLastEvent *systray.MenuItem
}

// New creates a new Tray with blow detection enabled.
func New() *Tray {
	return &Tray{
		enabled: true,
	}
}

// OnToggle sets the callback invoked when detection is switched on or off.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpen sets the callback invoked when "Open Party" is clicked.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnReset sets the callback invoked when "Relight Candles" is clicked.
func (t *Tray) OnReset(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReset = fn
}

// OnQuit sets the callback invoked when "Quit" is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the tray. It blocks until Quit is clicked or systray.Quit
// is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit closes the tray, making Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("🎂")
	systray.SetTooltip("Blowout birthday greeting")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle blow detection")
	systray.AddSeparator()
	t.menuLastEvent = systray.AddMenuItem(lastEventTitle(""), "Last party event")
	t.menuLastEvent.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open Party...", "Open the party page in a browser")
	menuReset := systray.AddMenuItem("Relight Candles", "Relight every candle")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit Blowout")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuOpen.ClickedCh:
				t.call(func() func() { return t.onOpen })
			case <-menuReset.ClickedCh:
				t.call(func() func() { return t.onReset })
			case <-menuQuit.ClickedCh:
				t.call(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
	callback := t.onToggle
	t.mu.Unlock()

	if callback != nil {
		callback(enabled)
	}
}

// call runs the callback selected under the read lock, outside of it.
func (t *Tray) call(pick func() func()) {
	t.mu.RLock()
	fn := pick()
	t.mu.RUnlock()

	if fn != nil {
		fn()
	}
}

// SetLastEvent updates the "Last:" line of the menu.
func (t *Tray) SetLastEvent(text string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLastEvent != nil {
		t.menuLastEvent.SetTitle(lastEventTitle(text))
	}
}

// IsEnabled returns whether detection is switched on.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Detecting blows"
	}
	return "○ Paused"
}

func lastEventTitle(text string) string {
	if text == "" {
		return "Last: none"
	}
	return "Last: " + text
}
