package rules

import "errors"

// Thresholds are the tunable limits shared by the rules.
type Thresholds struct {
	MaxPairTrades    int     // FREQUENCY_THRESHOLD fires above this count
	NetVolumeEpsilon float64 // NET_VOLUME_NEAR_ZERO band
	MinFee           float64 // XRP
	VolumeEpsilon    float64 // REPEATED_VOLUME band
	SyncBand         int64   // seconds
	SpoofMinTrades   int     // SPOOFING_PATTERN fires above this count
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxPairTrades:    5,
		NetVolumeEpsilon: 0.001,
		MinFee:           0.00001,
		VolumeEpsilon:    0.001,
		SyncBand:         300,
		SpoofMinTrades:   10,
	}
}

// Threshold validation errors.
var (
	ErrInvalidPairTrades = errors.New("max pair trades must be positive")
	ErrInvalidEpsilon    = errors.New("epsilon must be non-negative")
	ErrInvalidMinFee     = errors.New("min fee must be non-negative")
	ErrInvalidSyncBand   = errors.New("sync band must be positive")
	ErrInvalidSpoofCount = errors.New("spoof min trades must be positive")
)

// Validate checks the thresholds are usable.
func (t Thresholds) Validate() error {
	switch {
	case t.MaxPairTrades <= 0:
		return ErrInvalidPairTrades
	case t.NetVolumeEpsilon < 0 || t.VolumeEpsilon < 0:
		return ErrInvalidEpsilon
	case t.MinFee < 0:
		return ErrInvalidMinFee
	case t.SyncBand <= 0:
		return ErrInvalidSyncBand
	case t.SpoofMinTrades <= 0:
		return ErrInvalidSpoofCount
	}
	return nil
}
