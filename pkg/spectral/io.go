package spectral

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/terrencetec/kontrol"
)

// ReadSpectrum parses whitespace separated columns, one frequency per line:
// "f mag" for a magnitude spectrum or "f re im" for a complex response.
// Blank lines and lines starting with '#' are skipped. All data lines must
// have the same number of columns.
func ReadSpectrum(r io.Reader) (*kontrol.FrequencyResponse, error) {
	var (
		freqs  []float64
		values []complex128
		cols   int
		lineNo int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		l := strings.Fields(line)
		if cols == 0 {
			cols = len(l)
			if cols != 2 && cols != 3 {
				return nil, fmt.Errorf("%w: line %d has %d columns, want 2 or 3", kontrol.ErrInputShape, lineNo, cols)
			}
		}
		if len(l) != cols {
			return nil, fmt.Errorf("%w: line %d has %d columns, want %d", kontrol.ErrInputShape, lineNo, len(l), cols)
		}

		var lineVals [3]float64
		for i := 0; i < cols; i++ {
			val, err := strconv.ParseFloat(l[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			lineVals[i] = val
		}
		freqs = append(freqs, lineVals[0])
		values = append(values, complex(lineVals[1], lineVals[2]))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return kontrol.NewFrequencyResponse(freqs, values)
}

// ReadSeries parses a time series, one sample per line in the first
// column. Blank lines and lines starting with '#' are skipped.
func ReadSeries(r io.Reader) ([]float64, error) {
	var (
		x      []float64
		lineNo int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		val, err := strconv.ParseFloat(strings.Fields(line)[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		x = append(x, val)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return x, nil
}

// WriteSpectrum writes r as "f re im" lines, or "f mag" when magnitudeOnly
// is set.
func WriteSpectrum(w io.Writer, r *kontrol.FrequencyResponse, magnitudeOnly bool) error {
	bw := bufio.NewWriter(w)
	f := r.Frequencies()
	values := r.Values()
	mag := r.Magnitude()
	for i := range f {
		var err error
		if magnitudeOnly {
			_, err = fmt.Fprintf(bw, "%.17g %.17g\n", f[i], mag[i])
		} else {
			_, err = fmt.Fprintf(bw, "%.17g %.17g %.17g\n", f[i], real(values[i]), imag(values[i]))
		}
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadSpectrumFile reads a text spectrum from fs.
func ReadSpectrumFile(fs afero.Fs, path string) (*kontrol.FrequencyResponse, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := ReadSpectrum(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// WriteSpectrumFile writes a text spectrum to fs, replacing any existing
// file.
func WriteSpectrumFile(fs afero.Fs, path string, r *kontrol.FrequencyResponse, magnitudeOnly bool) error {
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSpectrum(f, r, magnitudeOnly); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
