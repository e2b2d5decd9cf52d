package hardware

import (
	"context"
	"time"
)

// MockVblank is an InterruptSource that raises the frame-end status of
// every CRTC on a Mock at a fixed refresh period.
type MockVblank struct {
	mock   *Mock
	bases  []Register
	ticker *time.Ticker
}

// NewMockVblank simulates frame-end interrupts for numCrtcs CRTCs.
func NewMockVblank(mock *Mock, numCrtcs int, period time.Duration) *MockVblank {
	bases := []Register{DU0RegOffset, DU1RegOffset, DU2RegOffset}
	if numCrtcs < len(bases) {
		bases = bases[:numCrtcs]
	}
	return &MockVblank{mock: mock, bases: bases, ticker: time.NewTicker(period)}
}

func (v *MockVblank) Wait(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-v.ticker.C:
	}
	for _, base := range v.bases {
		v.mock.Set(base+DSSR, v.mock.Get(base+DSSR)|DSSRFRM)
	}
	return 1, nil
}

func (v *MockVblank) Close() error {
	v.ticker.Stop()
	return nil
}

var _ InterruptSource = (*MockVblank)(nil)
