package state

import (
	"strconv"
	"strings"
)

// Upgrades are the selectable crafting-table multipliers, from no module to
// the fifth upgrade.
var Upgrades = []float64{1, 0.9, 0.75, 0.6, 0.55, 0.5}

// TableSetting is the multiplier mode of a crafting table. The zero value is
// unused.
type TableSetting struct {
	mult float64
}

var Unused = TableSetting{}

// ParseTableSetting accepts "unused" or one of Upgrades; anything else is unused.
func ParseTableSetting(s string) TableSetting {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "unused") {
		return Unused
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Unused
	}
	return UpgradeSetting(v)
}

func UpgradeSetting(mult float64) TableSetting {
	for _, u := range Upgrades {
		if mult == u {
			return TableSetting{mult: u}
		}
	}
	return Unused
}

func (t TableSetting) Used() bool { return t.mult > 0 }

// Multiplier is 1 for an unused table.
func (t TableSetting) Multiplier() float64 {
	if !t.Used() {
		return 1
	}
	return t.mult
}

func (t TableSetting) String() string {
	if !t.Used() {
		return "unused"
	}
	return strconv.FormatFloat(t.mult, 'f', -1, 64)
}

func (t TableSetting) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TableSetting) UnmarshalText(b []byte) error {
	*t = ParseTableSetting(string(b))
	return nil
}
