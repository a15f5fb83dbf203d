package randomfield

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Config collects the geometry, stochastic model and solver settings of a
// random field. The key-value format used by ParseKeyValue and WriteKeyValue
// groups keys by section prefix: grid.*, stochastic.* and randomField.*.
type Config struct {
	// Geometry.
	Extensions      []float64
	Cells           []int
	EmbeddingFactor int
	Periodic        bool

	// Stochastic model.
	Variance   float64
	Covariance string
	Anisotropy string
	CorrLength []float64

	// Solver and engine behavior.
	Approximate        bool
	Verbose            bool
	CGIterations       int
	StrictCG           bool
	CacheInvMatvec     bool
	CacheInvRootMatvec bool
	RNG                string

	// Field lists.
	Active int
	Types  []string
}

// Defaults returns a configuration with the engine defaults filled in. The
// geometry and covariance sections stay empty and must be set by the caller.
func Defaults() Config {
	return Config{
		EmbeddingFactor: 2,
		Variance:        1,
		Anisotropy:      "none",
		CGIterations:    100,
		CacheInvMatvec:  true,
		RNG:             "std",
	}
}

// Dim returns the spatial dimension implied by the cell list.
func (c *Config) Dim() int { return len(c.Cells) }

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func formatFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func formatInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

// ParseKeyValue reads a key-value configuration stream. Lines are of the form
// section.key = value; blank lines and lines starting with # are skipped.
// Unknown keys are an error so that typos do not silently fall back to
// defaults.
func ParseKeyValue(r io.Reader) (Config, error) {
	cfg := Defaults()
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		eq := strings.Index(text, "=")
		if eq < 0 {
			return cfg, fmt.Errorf("line %d: missing '=' in %q", line, text)
		}
		key := strings.TrimSpace(text[:eq])
		val := strings.TrimSpace(text[eq+1:])

		var err error
		switch key {
		case "grid.extensions":
			cfg.Extensions, err = parseFloats(val)
		case "grid.cells":
			cfg.Cells, err = parseInts(val)
		case "stochastic.variance":
			cfg.Variance, err = strconv.ParseFloat(val, 64)
		case "stochastic.covariance":
			cfg.Covariance = val
		case "stochastic.anisotropy":
			cfg.Anisotropy = val
		case "stochastic.corrLength":
			cfg.CorrLength, err = parseFloats(val)
		case "randomField.periodic":
			cfg.Periodic, err = strconv.ParseBool(val)
		case "randomField.approximate":
			cfg.Approximate, err = strconv.ParseBool(val)
		case "randomField.verbose":
			cfg.Verbose, err = strconv.ParseBool(val)
		case "randomField.cgIterations":
			cfg.CGIterations, err = strconv.Atoi(val)
		case "randomField.strictCG":
			cfg.StrictCG, err = strconv.ParseBool(val)
		case "randomField.cacheInvMatvec":
			cfg.CacheInvMatvec, err = strconv.ParseBool(val)
		case "randomField.cacheInvRootMatvec":
			cfg.CacheInvRootMatvec, err = strconv.ParseBool(val)
		case "randomField.embeddingFactor":
			cfg.EmbeddingFactor, err = strconv.Atoi(val)
		case "randomField.rng":
			cfg.RNG = val
		case "randomField.active":
			cfg.Active, err = strconv.Atoi(val)
		case "randomField.types":
			cfg.Types = strings.Fields(val)
		default:
			return cfg, fmt.Errorf("line %d: unknown key %q", line, key)
		}
		if err != nil {
			return cfg, fmt.Errorf("line %d: key %q: %w", line, key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteKeyValue writes the configuration in the same key-value format
// ParseKeyValue reads. Keys within a section appear in a fixed order so that
// files written on different ranks are byte-identical.
func (c *Config) WriteKeyValue(w io.Writer) error {
	lines := []string{
		"grid.extensions = " + formatFloats(c.Extensions),
		"grid.cells = " + formatInts(c.Cells),
		"stochastic.variance = " + strconv.FormatFloat(c.Variance, 'g', -1, 64),
		"stochastic.covariance = " + c.Covariance,
		"stochastic.anisotropy = " + c.Anisotropy,
		"stochastic.corrLength = " + formatFloats(c.CorrLength),
		"randomField.periodic = " + strconv.FormatBool(c.Periodic),
		"randomField.approximate = " + strconv.FormatBool(c.Approximate),
		"randomField.verbose = " + strconv.FormatBool(c.Verbose),
		"randomField.cgIterations = " + strconv.Itoa(c.CGIterations),
		"randomField.strictCG = " + strconv.FormatBool(c.StrictCG),
		"randomField.cacheInvMatvec = " + strconv.FormatBool(c.CacheInvMatvec),
		"randomField.cacheInvRootMatvec = " + strconv.FormatBool(c.CacheInvRootMatvec),
		"randomField.embeddingFactor = " + strconv.Itoa(c.EmbeddingFactor),
		"randomField.rng = " + c.RNG,
	}
	if len(c.Types) > 0 {
		lines = append(lines,
			"randomField.active = "+strconv.Itoa(c.Active),
			"randomField.types = "+strings.Join(c.Types, " "))
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
