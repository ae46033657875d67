package escrow

import (
	"fmt"
	"time"
)

const (
	// DefaultFirstDelay unlocks the first tranche half a year after delivery.
	DefaultFirstDelay = 182 * 24 * time.Hour
	// DefaultSecondDelay unlocks the second tranche a year after delivery.
	DefaultSecondDelay = 365 * 24 * time.Hour
)

// Schedule defines the vesting unlock offsets, both measured from the moment
// delivery is confirmed.
type Schedule struct {
	FirstDelay  time.Duration
	SecondDelay time.Duration
}

// DefaultSchedule returns the 182/365 day schedule.
func DefaultSchedule() Schedule {
	return Schedule{FirstDelay: DefaultFirstDelay, SecondDelay: DefaultSecondDelay}
}

// Validate ensures both tranches unlock in the future and the second strictly
// after the first.
func (s Schedule) Validate() error {
	if s.FirstDelay <= 0 {
		return fmt.Errorf("escrow schedule: first delay must be positive")
	}
	if s.SecondDelay <= s.FirstDelay {
		return fmt.Errorf("escrow schedule: second delay %s must exceed first delay %s", s.SecondDelay, s.FirstDelay)
	}
	if s.FirstDelay%time.Second != 0 || s.SecondDelay%time.Second != 0 {
		return fmt.Errorf("escrow schedule: delays must be whole seconds")
	}
	return nil
}

func (s Schedule) unlocks(deliveredAt int64) (int64, int64) {
	return deliveredAt + int64(s.FirstDelay/time.Second), deliveredAt + int64(s.SecondDelay/time.Second)
}
