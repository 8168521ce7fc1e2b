package bucketing

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	hundred         = decimal.NewFromInt(100)
	unitsPerPercent = decimal.NewFromInt(UnitsPerPercent)
)

// Percent is a percentage stored as whole bucket units (50% == 50_000).
// It is parsed with exact decimal arithmetic so "33.333" becomes 33_333 units
// and never passes through a float.
type Percent int

// ParsePercent converts a decimal percentage string in [0, 100] with at most
// three decimal places into bucket units.
func ParsePercent(s string) (Percent, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q: %w", s, err)
	}

	if d.IsNegative() || d.GreaterThan(hundred) {
		return 0, fmt.Errorf("percentage %s must be between 0 and 100", d.String())
	}

	units := d.Mul(unitsPerPercent)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("percentage %s has more than 3 decimal places", d.String())
	}

	return Percent(units.IntPart()), nil
}

// MustParsePercent is ParsePercent for literals known to be valid. It panics otherwise.
func MustParsePercent(s string) Percent {
	p, err := ParsePercent(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Units returns the percentage in bucket units.
func (p Percent) Units() int {
	return int(p)
}

// String renders the percentage as a decimal without trailing zeros ("12.5").
func (p Percent) String() string {
	return decimal.New(int64(p), -3).String()
}

// MarshalText implements encoding.TextMarshaler.
func (p Percent) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Percent) UnmarshalText(text []byte) error {
	parsed, err := ParsePercent(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalJSON writes the percentage as a JSON number.
func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalJSON accepts both JSON numbers and numeric strings.
func (p *Percent) UnmarshalJSON(data []byte) error {
	return p.UnmarshalText(bytes.Trim(data, `"`))
}

// UnmarshalYAML decodes scalar nodes such as `percentage: 12.5`.
func (p *Percent) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: percentage must be a scalar", node.Line)
	}
	if err := p.UnmarshalText([]byte(node.Value)); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}
