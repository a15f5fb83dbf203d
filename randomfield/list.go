package randomfield

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/structgrid/gaussrf/comm"
)

// List is an ordered collection of named random fields. Calculus operations
// apply to the active prefix of the name list only; inactive fields are kept
// constant. Arithmetic between two lists requires the other list to carry
// every active name.
type List struct {
	comm *comm.Comm
	cfg  Config

	names  []string
	active []string
	fields map[string]*RandomField
}

// NewList creates one field per name in cfg.Types, all sharing the geometry
// and solver settings of cfg. cfg.Active selects the active prefix; zero
// activates all fields.
func NewList(c *comm.Comm, cfg Config) (*List, error) {
	if len(cfg.Types) == 0 {
		return nil, errors.New("list of random field types is empty")
	}

	l := &List{comm: c, cfg: cfg, fields: make(map[string]*RandomField)}
	for _, name := range cfg.Types {
		field, err := New(c, cfg)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		l.names = append(l.names, name)
		l.fields[name] = field
	}

	active := cfg.Active
	if active == 0 {
		active = len(l.names)
	}
	if err := l.ActivateFields(active); err != nil {
		return nil, err
	}
	return l, nil
}

// ActivateFields marks the first number fields as active.
func (l *List) ActivateFields(number int) error {
	if number > len(l.names) {
		return errors.New("too many random fields activated")
	}
	l.active = append([]string(nil), l.names[:number]...)
	return nil
}

// Insert adds a field under a new name.
func (l *List) Insert(name string, field *RandomField, activate bool) {
	l.names = append(l.names, name)
	if activate {
		l.active = append(l.active, name)
	}
	l.fields[name] = field
}

// Types returns the names of the currently active fields.
func (l *List) Types() []string {
	return append([]string(nil), l.active...)
}

// Get returns the field stored under the given name, or nil.
func (l *List) Get(name string) *RandomField { return l.fields[name] }

// match verifies that other holds every active name of l.
func (l *List) match(other *List) error {
	for _, name := range l.active {
		if _, ok := other.fields[name]; !ok {
			return fmt.Errorf("%w: %q missing", ErrListMismatch, name)
		}
	}
	return nil
}

// Generate draws a correlated sample for every field, active or not.
func (l *List) Generate(seed uint64) error {
	for i, name := range l.names {
		if err := l.fields[name].Generate(seed + uint64(i)*uint64(l.comm.Size())); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

// GenerateUncorrelated draws white noise for every field.
func (l *List) GenerateUncorrelated(seed uint64) error {
	for i, name := range l.names {
		if err := l.fields[name].GenerateUncorrelated(seed + uint64(i)*uint64(l.comm.Size())); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

// Zero sets the active fields to zero.
func (l *List) Zero() {
	for _, name := range l.active {
		l.fields[name].Zero()
	}
}

// RefineMatrix doubles the matrix resolution of the active fields.
func (l *List) RefineMatrix() error {
	return l.eachActive((*RandomField).RefineMatrix)
}

// Refine doubles the field resolution of the active fields.
func (l *List) Refine() error {
	return l.eachActive((*RandomField).Refine)
}

// CoarsenMatrix halves the matrix resolution of the active fields.
func (l *List) CoarsenMatrix() error {
	return l.eachActive((*RandomField).CoarsenMatrix)
}

// Coarsen halves the field resolution of the active fields.
func (l *List) Coarsen() error {
	return l.eachActive((*RandomField).Coarsen)
}

// TimesMatrix multiplies the active fields with the covariance matrix.
func (l *List) TimesMatrix() error {
	return l.eachActive((*RandomField).TimesMatrix)
}

// TimesInverseMatrix multiplies the active fields with the inverse matrix.
func (l *List) TimesInverseMatrix() error {
	return l.eachActive((*RandomField).TimesInverseMatrix)
}

// TimesMatrixRoot multiplies the active fields with the matrix root.
func (l *List) TimesMatrixRoot() error {
	return l.eachActive((*RandomField).TimesMatrixRoot)
}

// TimesInvMatRoot multiplies the active fields with the inverse matrix root.
func (l *List) TimesInvMatRoot() error {
	return l.eachActive((*RandomField).TimesInvMatRoot)
}

func (l *List) eachActive(op func(*RandomField) error) error {
	for _, name := range l.active {
		if err := op(l.fields[name]); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

// Add accumulates the matching fields of other into the active fields.
func (l *List) Add(other *List) error {
	if err := l.match(other); err != nil {
		return err
	}
	for _, name := range l.active {
		l.fields[name].Add(other.fields[name])
	}
	return nil
}

// Sub subtracts the matching fields of other from the active fields.
func (l *List) Sub(other *List) error {
	if err := l.match(other); err != nil {
		return err
	}
	for _, name := range l.active {
		l.fields[name].Sub(other.fields[name])
	}
	return nil
}

// Scale multiplies the active fields by alpha.
func (l *List) Scale(alpha float64) {
	for _, name := range l.active {
		l.fields[name].Scale(alpha)
	}
}

// Axpy adds alpha times the matching fields of other.
func (l *List) Axpy(other *List, alpha float64) error {
	if err := l.match(other); err != nil {
		return err
	}
	for _, name := range l.active {
		l.fields[name].Axpy(other.fields[name], alpha)
	}
	return nil
}

// ScalarProduct sums the inner products of the active fields.
func (l *List) ScalarProduct(other *List) (float64, error) {
	if err := l.match(other); err != nil {
		return 0, err
	}
	sum := 0.
	for _, name := range l.active {
		sum += l.fields[name].ScalarProduct(other.fields[name])
	}
	return sum, nil
}

// OneNorm sums the one-norms of the active fields.
func (l *List) OneNorm() float64 {
	sum := 0.
	for _, name := range l.active {
		sum += l.fields[name].OneNorm()
	}
	return sum
}

// TwoNorm combines the two-norms of the active fields.
func (l *List) TwoNorm() float64 {
	sum := 0.
	for _, name := range l.active {
		n := l.fields[name].TwoNorm()
		sum += n * n
	}
	return math.Sqrt(sum)
}

// InfNorm returns the largest infinity norm among the active fields.
func (l *List) InfNorm() float64 {
	max := 0.
	for _, name := range l.active {
		if n := l.fields[name].InfNorm(); n > max {
			max = n
		}
	}
	return max
}

// Equal compares all named fields, not just the active ones.
func (l *List) Equal(other *List) (bool, error) {
	for _, name := range l.names {
		otherField, ok := other.fields[name]
		if !ok {
			return false, fmt.Errorf("%w: %q missing", ErrListMismatch, name)
		}
		if !l.fields[name].Equal(otherField) {
			return false, nil
		}
	}
	return true, nil
}

// Localize applies a Gaussian bump to the active fields.
func (l *List) Localize(center []float64, radius float64) {
	for _, name := range l.active {
		l.fields[name].Localize(center, radius)
	}
}

// WriteToFile stores every field under basename.<name> plus one aggregate
// configuration file.
func (l *List) WriteToFile(basename string) error {
	for _, name := range l.names {
		if err := l.fields[name].WriteToFile(basename + "." + name); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}

	var err error
	if l.comm.Rank() == 0 {
		err = l.writeListConfig(basename)
	}
	return l.comm.Check(err)
}

func (l *List) writeListConfig(basename string) error {
	file, err := os.Create(basename + ".fieldList")
	if err != nil {
		return err
	}
	cfg := l.cfg
	cfg.Active = len(l.active)
	cfg.Types = append([]string(nil), l.names...)
	if err := cfg.WriteKeyValue(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadFromFile restores every field from basename.<name>.
func (l *List) LoadFromFile(basename string) error {
	for _, name := range l.names {
		if err := l.fields[name].LoadFromFile(basename + "." + name); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}
