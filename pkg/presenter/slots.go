package presenter

import (
	"fmt"
	"sync"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
)

// Indicator is one visual progress marker. The pipeline is agnostic to
// the rendering: the CLI draws per-lane progress lines, tests use fakes.
type Indicator interface {
	// ShowAt places or moves the indicator onto a target image
	ShowAt(target models.ImageHandle)
	// Hide retires the indicator from view
	Hide()
}

// IndicatorFactory lazily builds the indicator for a slot index
type IndicatorFactory func(slot int) Indicator

// slotState tracks one scheduling lane's indicator and current target
type slotState struct {
	indicator Indicator
	target    *models.ImageHandle
}

// Presenter maintains at most one visual indicator per scheduler lane.
// Indicators are created lazily on a slot's first assignment and reused
// for every image that lane processes afterwards; they are only retired
// once the scheduler reports that no queued or in-flight work remains,
// so a released slot can take its next image with no flicker.
type Presenter struct {
	mu      sync.Mutex
	slots   []slotState
	factory IndicatorFactory
	drained bool
}

// New creates a presenter with exactly slotCount indicator positions
func New(slotCount int, factory IndicatorFactory) (*Presenter, error) {
	if slotCount < 1 {
		return nil, fmt.Errorf("slot count must be >= 1, got %d", slotCount)
	}
	if factory == nil {
		return nil, fmt.Errorf("indicator factory is required")
	}
	return &Presenter{
		slots:   make([]slotState, slotCount),
		factory: factory,
	}, nil
}

// SlotCount returns the fixed number of indicator positions
func (p *Presenter) SlotCount() int {
	return len(p.slots)
}

// Assign points the slot's indicator at a new target, creating the
// indicator on first use.
func (p *Presenter) Assign(slot int, target models.ImageHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkSlot(slot); err != nil {
		return err
	}

	s := &p.slots[slot]
	if s.indicator == nil {
		s.indicator = p.factory(slot)
	}
	s.target = &target
	s.indicator.ShowAt(target)
	return nil
}

// Release marks the slot as having no current target. The indicator is
// kept so the slot's next assignment reuses it.
func (p *Presenter) Release(slot int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkSlot(slot); err != nil {
		return err
	}
	p.slots[slot].target = nil
	return nil
}

// Target returns the image the slot's indicator currently points at,
// or false when the slot is released.
func (p *Presenter) Target(slot int) (models.ImageHandle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slot < 0 || slot >= len(p.slots) || p.slots[slot].target == nil {
		return models.ImageHandle{}, false
	}
	return *p.slots[slot].target, true
}

// NotifyDrained is the scheduler's signal that no queued or in-flight
// work remains anywhere. Only after this may indicators be retired.
func (p *Presenter) NotifyDrained() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drained = true
}

// RetireIfIdle hides the slot's indicator, but only when the slot is
// released and the scheduler has reported the batch drained. Returns
// true if the indicator was retired.
func (p *Presenter) RetireIfIdle(slot int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slot < 0 || slot >= len(p.slots) {
		return false
	}
	s := &p.slots[slot]
	if !p.drained || s.target != nil || s.indicator == nil {
		return false
	}
	s.indicator.Hide()
	s.indicator = nil
	return true
}

// RetireAll retires every idle indicator; called once the batch drains
func (p *Presenter) RetireAll() {
	for i := range p.slots {
		p.RetireIfIdle(i)
	}
}

func (p *Presenter) checkSlot(slot int) error {
	if slot < 0 || slot >= len(p.slots) {
		return fmt.Errorf("slot index %d out of range (0-%d)", slot, len(p.slots)-1)
	}
	return nil
}
