package sensorsource

import "context"

// ChassisClient is the single MCU command the chassis source needs.
type ChassisClient interface {
	ChassisTemperature(ctx context.Context) (int, error)
}

// ChassisSource reads the chassis temperature through the MCU link's TMP
// register.
type ChassisSource struct {
	Client ChassisClient
}

func (s ChassisSource) Read(ctx context.Context) (float64, bool) {
	v, err := s.Client.ChassisTemperature(ctx)
	if err != nil {
		return 0, false
	}
	return float64(v), true
}
