package timer

import (
	"math"
	"sync"

	abcc "github.com/samsamfire/goabcc"
)

const DefaultNumTimers = 3

// Handle identifies a timer created with [Service.Create]
type Handle int

const NoHandle Handle = -1

type slot struct {
	callback func()
	active   bool
	timedOut bool
	timeLeft int32
}

// Service is a small set of one shot timers driven by [Service.Tick].
// Timers are allocated once and never released.
type Service struct {
	mu       sync.Mutex
	logger   *abcc.Logger
	slots    []slot
	enabled  bool
	uptimeMs uint64
}

func NewService(numTimers int, logger *abcc.Logger) *Service {
	if numTimers <= 0 {
		numTimers = DefaultNumTimers
	}
	if logger == nil {
		logger = abcc.NewLogger("TIMER")
	}
	s := &Service{logger: logger, slots: make([]slot, numTimers)}
	s.Init()
	return s
}

// Init releases every timer and enables ticking
func (s *Service) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		s.slots[i] = slot{}
	}
	s.enabled = true
	s.uptimeMs = 0
}

// Create allocates a timer calling callback on timeout
func (s *Service) Create(callback func()) (Handle, error) {
	if callback == nil {
		return NoHandle, abcc.UnexpectedNilPtr
	}
	s.mu.Lock()
	for i := range s.slots {
		if s.slots[i].callback == nil {
			s.slots[i] = slot{callback: callback}
			s.mu.Unlock()
			return Handle(i), nil
		}
	}
	numTimers := len(s.slots)
	s.mu.Unlock()
	s.logger.Warning(abcc.NoResources, uint32(numTimers), "no free timer out of %v", numTimers)
	return NoHandle, abcc.NoResources
}

func (s *Service) valid(h Handle) bool {
	return h >= 0 && int(h) < len(s.slots) && s.slots[h].callback != nil
}

// Start (re)arms the timer and returns true if the previous run had timed
// out. Timeouts are capped to [math.MaxInt32] ms.
func (s *Service) Start(h Handle, timeoutMs uint32) bool {
	if timeoutMs > math.MaxInt32 {
		timeoutMs = math.MaxInt32
	}
	s.mu.Lock()
	if !s.valid(h) {
		s.mu.Unlock()
		s.logger.Error(abcc.InternalError, uint32(h), "start of unregistered timer %v", h)
		return false
	}
	t := &s.slots[h]
	timedOut := t.timedOut
	t.timeLeft = int32(timeoutMs)
	t.timedOut = false
	t.active = true
	s.mu.Unlock()
	return timedOut
}

// Stop disarms the timer and returns true if it had timed out
func (s *Service) Stop(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(h) {
		return false
	}
	t := &s.slots[h]
	timedOut := t.timedOut
	t.active = false
	t.timedOut = false
	return timedOut
}

// IsActive reports whether the timer is armed
func (s *Service) IsActive(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid(h) && s.slots[h].active
}

// Tick advances every armed timer by deltaMs. Callbacks of the timers
// that expired are called once, after the lock is released.
func (s *Service) Tick(deltaMs uint16) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	var expired []func()
	for i := range s.slots {
		t := &s.slots[i]
		if t.callback == nil || !t.active {
			continue
		}
		t.timeLeft -= int32(deltaMs)
		if t.timeLeft <= 0 {
			t.timedOut = true
			t.active = false
			expired = append(expired, t.callback)
		}
	}
	s.uptimeMs += uint64(deltaMs)
	s.mu.Unlock()

	for _, callback := range expired {
		callback()
	}
}

// Disable stops ticking, used on shutdown
func (s *Service) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
}

// UptimeMs is the sum of every tick since [Service.Init]
func (s *Service) UptimeMs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uptimeMs
}
