package workload

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Ratio ...
type Ratio struct {
	Nominator   uint64
	Denominator uint64
}

// NewRatio ...
func NewRatio(nominator uint64, denominator uint64) Ratio {
	return Ratio{
		Nominator:   nominator,
		Denominator: denominator,
	}
}

// MulUint64 ...
func (r Ratio) MulUint64(v uint64) uint64 {
	return v * r.Nominator / r.Denominator
}

// Hit draws true with a probability of the ratio.
func (r Ratio) Hit(rnd *rand.Rand) bool {
	if r.Nominator == 0 {
		return false
	}
	return uint64(rnd.Int63n(int64(r.Denominator))) < r.Nominator
}

// Validate ...
func (r Ratio) Validate() error {
	if r.Denominator == 0 {
		return errors.Newf("ratio %d/0: zero denominator", r.Nominator)
	}
	if r.Nominator > r.Denominator {
		return errors.Newf("ratio %d/%d larger than one", r.Nominator, r.Denominator)
	}
	return nil
}

// String ...
func (r *Ratio) String() string {
	return fmt.Sprintf("%d/%d", r.Nominator, r.Denominator)
}

// Set parses "n/d" or a single number n meaning n/1.
func (r *Ratio) Set(s string) error {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseUint(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "ratio %q", s)
	}
	d := uint64(1)
	if found {
		d, err = strconv.ParseUint(strings.TrimSpace(den), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "ratio %q", s)
		}
	}
	parsed := NewRatio(n, d)
	if err := parsed.Validate(); err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Type ...
func (r *Ratio) Type() string {
	return "ratio"
}
