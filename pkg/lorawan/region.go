package lorawan

import (
	"errors"
	"fmt"
)

// ErrNoFrequencyPlans is returned when the resolver has no plans to choose from.
var ErrNoFrequencyPlans = errors.New("no frequency plans configured")

// RegionDefaults are the MAC parameters handed to a device when it joins on a
// plan.
type RegionDefaults struct {
	RX1DROffset  uint8    `yaml:"rx1_dr_offset" json:"rx1DROffset"`
	RX2DataRate  uint8    `yaml:"rx2_dr" json:"rx2DataRate"`
	RX2Frequency uint32   `yaml:"rx2_frequency" json:"rx2Frequency"`
	RxDelay      uint8    `yaml:"rx_delay" json:"rxDelay"`
	Channels     []uint32 `yaml:"channels" json:"channels"`

	// ExtraChannels are sent to the device in the join-accept CFList.
	ExtraChannels []uint32 `yaml:"extra_channels" json:"extraChannels,omitempty"`
}

// Copy returns a deep copy.
func (d RegionDefaults) Copy() RegionDefaults {
	out := d
	out.Channels = append([]uint32(nil), d.Channels...)
	out.ExtraChannels = append([]uint32(nil), d.ExtraChannels...)
	return out
}

// CFList returns the channel list for the join-accept, or nil when the plan has
// no extra channels.
func (d RegionDefaults) CFList() (*CFList, error) {
	return NewCFList(d.ExtraChannels)
}

// FrequencyPlan is a named regional plan identified by its center frequency.
type FrequencyPlan struct {
	Name     string         `yaml:"name" json:"name"`
	Center   uint32         `yaml:"center" json:"center"`
	Defaults RegionDefaults `yaml:"defaults" json:"defaults"`
}

// ResolvePlan returns the plan whose center is nearest to freq (Hz). Ties go to
// the plan listed first. The returned plan holds its own copy of the defaults.
func ResolvePlan(freq uint32, plans []FrequencyPlan) (FrequencyPlan, error) {
	if len(plans) == 0 {
		return FrequencyPlan{}, ErrNoFrequencyPlans
	}

	best := 0
	bestDist := distance(freq, plans[0].Center)
	for i := 1; i < len(plans); i++ {
		if d := distance(freq, plans[i].Center); d < bestDist {
			best, bestDist = i, d
		}
	}

	p := plans[best]
	p.Defaults = p.Defaults.Copy()
	return p, nil
}

func distance(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// PlanByName looks a plan up by name.
func PlanByName(name string, plans []FrequencyPlan) (FrequencyPlan, error) {
	for _, p := range plans {
		if p.Name == name {
			p.Defaults = p.Defaults.Copy()
			return p, nil
		}
	}
	return FrequencyPlan{}, fmt.Errorf("unknown frequency plan %q", name)
}

// cn470UplinkFrequency returns the frequency of CN470 uplink channel ch.
func cn470UplinkFrequency(ch int) uint32 {
	if ch < 0 || ch > 95 {
		return 0
	}
	return uint32(470300000 + ch*200000)
}

func cn470Channels(first, n int) []uint32 {
	out := make([]uint32, 0, n)
	for ch := first; ch < first+n; ch++ {
		out = append(out, cn470UplinkFrequency(ch))
	}
	return out
}

// DefaultFrequencyPlans returns the built-in plans, ordered by center.
func DefaultFrequencyPlans() []FrequencyPlan {
	return []FrequencyPlan{
		{
			Name:   "EU433",
			Center: 433175000,
			Defaults: RegionDefaults{
				RX2DataRate:  0,
				RX2Frequency: 434665000,
				RxDelay:      1,
				Channels:     []uint32{433175000, 433375000, 433575000},
			},
		},
		{
			Name:   "CN470",
			Center: 470300000,
			Defaults: RegionDefaults{
				RX2DataRate:  0,
				RX2Frequency: 505300000,
				RxDelay:      1,
				Channels:     cn470Channels(0, 8),
			},
		},
		{
			Name:   "EU868",
			Center: 868100000,
			Defaults: RegionDefaults{
				RX2DataRate:  0,
				RX2Frequency: 869525000,
				RxDelay:      1,
				Channels:     []uint32{868100000, 868300000, 868500000},
			},
		},
		{
			Name:   "US915",
			Center: 902300000,
			Defaults: RegionDefaults{
				RX2DataRate:  8,
				RX2Frequency: 923300000,
				RxDelay:      1,
			},
		},
	}
}
