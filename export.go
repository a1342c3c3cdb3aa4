package kontrol

import (
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"strconv"
	"strings"
)

// DefaultMaxSectionOrder is the highest order a single foton section accepts.
const DefaultMaxSectionOrder = 20

// DefaultSignificantFigures is the precision of exported numbers.
const DefaultSignificantFigures = 10

// RootLocation selects the root convention of a zpk expression.
type RootLocation string

const (
	// Normalized ("n") gives roots in Hz, negated so stable roots have
	// positive real part, with each factor normalized to unit DC gain.
	Normalized RootLocation = "n"
	// SPlane ("s") gives roots in rad/s as they are, with the plain gain.
	SPlane RootLocation = "s"
)

// FotonOptions controls the export. Zero values select the defaults.
type FotonOptions struct {
	MaxOrder           int
	SignificantFigures int
	Location           RootLocation
}

func (o FotonOptions) withDefaults() FotonOptions {
	if o.MaxOrder == 0 {
		o.MaxOrder = DefaultMaxSectionOrder
	}
	if o.SignificantFigures <= 0 {
		o.SignificantFigures = DefaultSignificantFigures
	}
	if o.Location == "" {
		o.Location = Normalized
	}
	return o
}

// ToFotonSections splits the model into cascaded sections of order at most
// maxOrder. Conjugate pairs stay together and roots are spread so the
// sections have similar orders. Every root is kept unchanged and the whole
// gain goes to the first section, so the product of the sections is the
// model itself.
func (m *ZPK) ToFotonSections(maxOrder int) ([]*ZPK, error) {
	if maxOrder < 1 {
		return nil, fmt.Errorf("%w: maximum section order %d", ErrExportRange, maxOrder)
	}
	zeros, poles := groupRoots(m.zeros), groupRoots(m.poles)
	if maxOrder < 2 {
		for _, g := range append(append([]rootGroup{}, zeros...), poles...) {
			if g.pair {
				return nil, fmt.Errorf("%w: complex pair %v needs sections of order 2", ErrExportRange, g.root)
			}
		}
	}

	units := func(groups []rootGroup) int {
		n := 0
		for _, g := range groups {
			n += groupOrder(g)
		}
		return n
	}
	k := max(1, (max(units(zeros), units(poles))+maxOrder-1)/maxOrder)
	var zbins, pbins [][]rootGroup
	for {
		var zok, pok bool
		zbins, zok = packRoots(zeros, k, maxOrder)
		pbins, pok = packRoots(poles, k, maxOrder)
		if zok && pok {
			break
		}
		k++
	}

	sections := make([]*ZPK, k)
	for i := range sections {
		gain := 1.0
		if i == 0 {
			gain = m.gain
		}
		s, err := NewZPK(ungroup(zbins[i]), ungroup(pbins[i]), gain)
		if err != nil {
			return nil, err
		}
		sections[i] = s
	}
	return sections, nil
}

func groupOrder(g rootGroup) int {
	if g.pair {
		return 2
	}
	return 1
}

// packRoots spreads groups over k bins, each group going to the least loaded
// bin that can still hold it. It reports false if some group does not fit.
func packRoots(groups []rootGroup, k, capacity int) ([][]rootGroup, bool) {
	bins := make([][]rootGroup, k)
	load := make([]int, k)
	for _, g := range groups {
		best := -1
		for i := range bins {
			if load[i]+groupOrder(g) > capacity {
				continue
			}
			if best < 0 || load[i] < load[best] {
				best = i
			}
		}
		if best < 0 {
			return nil, false
		}
		bins[best] = append(bins[best], g)
		load[best] += groupOrder(g)
	}
	return bins, true
}

// Foton renders the model as one zpk expression per section, sections
// separated by a blank line.
func (m *ZPK) Foton(opts FotonOptions) (string, error) {
	exprs, err := m.FotonExpressions(opts)
	if err != nil {
		return "", err
	}
	return strings.Join(exprs, "\n\n"), nil
}

// FotonExpressions renders one zpk expression per section.
func (m *ZPK) FotonExpressions(opts FotonOptions) ([]string, error) {
	opts = opts.withDefaults()
	sections, err := m.ToFotonSections(opts.MaxOrder)
	if err != nil {
		return nil, err
	}
	if len(sections) > 1 {
		log.Printf("⚠️  export: order %d exceeds %d, split into %d sections", m.Order(), opts.MaxOrder, len(sections))
	}
	out := make([]string, len(sections))
	for i, s := range sections {
		if out[i], err = FotonExpression(s, opts); err != nil {
			return nil, fmt.Errorf("section %d: %w", i+1, err)
		}
	}
	return out, nil
}

// FotonExpression renders a single section as
// zpk([Z1;Z2;...],[P1;P2;...],K,"n"). The section order must not exceed
// opts.MaxOrder.
func FotonExpression(section *ZPK, opts FotonOptions) (string, error) {
	opts = opts.withDefaults()
	if section.Order() > opts.MaxOrder {
		return "", fmt.Errorf("%w: section order %d exceeds %d", ErrExportRange, section.Order(), opts.MaxOrder)
	}

	var gain complex128
	var convert func(complex128) complex128
	switch opts.Location {
	case Normalized:
		gain = complex(section.gain, 0)
		for _, z := range section.zeros {
			gain *= normalizationFactor(z)
		}
		for _, p := range section.poles {
			gain /= normalizationFactor(p)
		}
		convert = func(r complex128) complex128 {
			// Component-wise so that the origin maps to -0.
			return complex(-real(r)/(2*math.Pi), imag(r)/(2*math.Pi))
		}
	case SPlane:
		gain = complex(section.gain, 0)
		convert = func(r complex128) complex128 { return r }
	default:
		return "", fmt.Errorf("%w: unknown root location %q", ErrExportRange, opts.Location)
	}
	k := real(gain)
	if math.IsNaN(k) || math.IsInf(k, 0) {
		return "", fmt.Errorf("%w: gain %g", ErrExportRange, k)
	}

	render := func(roots []complex128) (string, error) {
		parts := make([]string, len(roots))
		for i, r := range roots {
			v := convert(r)
			if cmplx.IsNaN(v) || cmplx.IsInf(v) {
				return "", fmt.Errorf("%w: root %v", ErrExportRange, r)
			}
			parts[i] = formatRoot(v, opts.SignificantFigures)
		}
		return strings.Join(parts, ";"), nil
	}
	zs, err := render(section.zeros)
	if err != nil {
		return "", err
	}
	ps, err := render(section.poles)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("zpk([%s],[%s],%s,\"%s\")", zs, ps, formatGain(k, opts.SignificantFigures), opts.Location), nil
}

// normalizationFactor is the constant pulled out of (s − r) to leave a
// unit-DC factor: −r for r ≠ 0, and 2π for a root at the origin, whose
// factor s/2π has unit gain at 1 Hz.
func normalizationFactor(r complex128) complex128 {
	if r == 0 {
		return complex(2*math.Pi, 0)
	}
	return -r
}

func formatNumber(v float64, sig int) string {
	return strconv.FormatFloat(v, 'g', sig, 64)
}

// formatGain drops the sign of a zero gain.
func formatGain(v float64, sig int) string {
	if v == 0 {
		v = 0
	}
	return formatNumber(v, sig)
}

// formatRoot keeps the sign of a zero real part, so an origin root in
// normalized form prints as -0.
func formatRoot(v complex128, sig int) string {
	if imag(v) == 0 {
		return formatNumber(real(v), sig)
	}
	sign := "+"
	if imag(v) < 0 {
		sign = "-"
	}
	return formatNumber(real(v), sig) + sign + "i*" + formatNumber(math.Abs(imag(v)), sig)
}

// ParseFoton parses one zpk expression. Both "n" and "s" root locations are
// understood, and an imaginary part may be written "+i*-x" as well as "-i*x".
func ParseFoton(expr string) (*ZPK, error) {
	s := strings.Join(strings.Fields(expr), "")
	if !strings.HasPrefix(s, "zpk(") || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("%w: not a zpk expression: %q", ErrInputShape, expr)
	}
	body := s[len("zpk(") : len(s)-1]

	zeroList, rest, err := bracketed(body)
	if err != nil {
		return nil, err
	}
	rest = strings.TrimPrefix(rest, ",")
	poleList, rest, err := bracketed(rest)
	if err != nil {
		return nil, err
	}
	fields := strings.Split(strings.TrimPrefix(rest, ","), ",")
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: expected gain and root location in %q", ErrInputShape, expr)
	}
	k, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: gain %q: %v", ErrInputShape, fields[0], err)
	}
	loc := RootLocation(strings.Trim(fields[1], `"'`))

	zeros, err := parseRoots(zeroList)
	if err != nil {
		return nil, err
	}
	poles, err := parseRoots(poleList)
	if err != nil {
		return nil, err
	}

	switch loc {
	case Normalized:
		back := func(v complex128) complex128 { return -cmplx.Conj(v) * (2 * math.Pi) }
		gain := complex(k, 0)
		for i, v := range zeros {
			zeros[i] = back(v)
			gain /= normalizationFactor(zeros[i])
		}
		for i, v := range poles {
			poles[i] = back(v)
			gain *= normalizationFactor(poles[i])
		}
		return NewZPK(zeros, poles, real(gain))
	case SPlane:
		return NewZPK(zeros, poles, k)
	default:
		return nil, fmt.Errorf("%w: unsupported root location %q", ErrInputShape, loc)
	}
}

// ParseFotonSections parses expressions separated by blank lines or newlines
// and cascades them.
func ParseFotonSections(text string) (*ZPK, error) {
	var out *ZPK
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		section, err := ParseFoton(line)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = section
		} else {
			out = out.Mul(section)
		}
	}
	if out == nil {
		return nil, fmt.Errorf("%w: no zpk expression found", ErrInputShape)
	}
	return out, nil
}

func bracketed(s string) (inner, rest string, err error) {
	if !strings.HasPrefix(s, "[") {
		return "", "", fmt.Errorf("%w: expected '[' in %q", ErrInputShape, s)
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return "", "", fmt.Errorf("%w: unterminated root list in %q", ErrInputShape, s)
	}
	return s[1:end], s[end+1:], nil
}

func parseRoots(list string) ([]complex128, error) {
	if list == "" {
		return nil, nil
	}
	items := strings.FieldsFunc(list, func(r rune) bool { return r == ';' || r == ',' })
	out := make([]complex128, len(items))
	for i, item := range items {
		v, err := parseRoot(item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseRoot(item string) (complex128, error) {
	idx := strings.Index(item, "i*")
	if idx < 0 {
		re, err := strconv.ParseFloat(item, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: root %q: %v", ErrInputShape, item, err)
		}
		return complex(re, 0), nil
	}

	head, tail := item[:idx], item[idx+2:]
	sign := 1.0
	switch {
	case strings.HasSuffix(head, "+"):
		head = head[:len(head)-1]
	case strings.HasSuffix(head, "-"):
		head = head[:len(head)-1]
		sign = -1
	case head != "":
		return 0, fmt.Errorf("%w: root %q", ErrInputShape, item)
	}
	re := 0.0
	if head != "" {
		var err error
		if re, err = strconv.ParseFloat(head, 64); err != nil {
			return 0, fmt.Errorf("%w: root %q: %v", ErrInputShape, item, err)
		}
	}
	im, err := strconv.ParseFloat(tail, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: root %q: %v", ErrInputShape, item, err)
	}
	return complex(re, sign*im), nil
}
