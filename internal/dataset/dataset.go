// Package dataset loads training data into feature and target matrices.
package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Dataset pairs a feature matrix with its targets, one sample per row.
type Dataset struct {
	X *mat.Dense
	Y *mat.Dense
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	if d == nil || d.X == nil {
		return 0
	}
	r, _ := d.X.Dims()
	return r
}

// Features returns the number of input columns.
func (d *Dataset) Features() int {
	_, c := d.X.Dims()
	return c
}

// Targets returns the number of target columns.
func (d *Dataset) Targets() int {
	_, c := d.Y.Dims()
	return c
}

// Batches splits the dataset into contiguous batches of at most size rows,
// in dataset order. size <= 0 yields the whole dataset as one batch. The
// batches are views sharing storage with d.
func (d *Dataset) Batches(size int) []Dataset {
	n := d.Len()
	if size <= 0 || size >= n {
		return []Dataset{*d}
	}
	_, fc := d.X.Dims()
	_, tc := d.Y.Dims()

	batches := make([]Dataset, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		batches = append(batches, Dataset{
			X: d.X.Slice(start, end, 0, fc).(*mat.Dense),
			Y: d.Y.Slice(start, end, 0, tc).(*mat.Dense),
		})
	}
	return batches
}

// monkCardinalities are the number of values of the six MONK attributes.
var monkCardinalities = []int{3, 3, 2, 3, 4, 2}

// MonkFeatures is the width of the one-hot encoded MONK input.
const MonkFeatures = 17

// LoadMonk reads a MONK's problems file ("class a1 .. a6 id" per line) and
// one-hot encodes the attributes into 17 binary features.
func LoadMonk(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return ReadMonk(f)
}

// ReadMonk parses MONK data from r.
func ReadMonk(r io.Reader) (*Dataset, error) {
	var xs, ys []float64
	rows := 0

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 1+len(monkCardinalities) {
			return nil, fmt.Errorf("line %d: expected at least %d fields, got %d", line, 1+len(monkCardinalities), len(fields))
		}

		class, err := strconv.Atoi(fields[0])
		if err != nil || (class != 0 && class != 1) {
			return nil, fmt.Errorf("line %d: invalid class %q", line, fields[0])
		}
		ys = append(ys, float64(class))

		for i, card := range monkCardinalities {
			v, err := strconv.Atoi(fields[1+i])
			if err != nil || v < 1 || v > card {
				return nil, fmt.Errorf("line %d: attribute %d value %q outside 1..%d", line, i+1, fields[1+i], card)
			}
			for k := 1; k <= card; k++ {
				if k == v {
					xs = append(xs, 1)
				} else {
					xs = append(xs, 0)
				}
			}
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	if rows == 0 {
		return nil, errors.New("dataset is empty")
	}

	return &Dataset{
		X: mat.NewDense(rows, MonkFeatures, xs),
		Y: mat.NewDense(rows, 1, ys),
	}, nil
}

// LoadCSV reads a numeric CSV file. targetCols lists the columns used as
// targets, in that order; all other columns are features.
func LoadCSV(path string, targetCols []int, hasHeader bool) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, targetCols, hasHeader)
}

// ReadCSV parses CSV data from r. See LoadCSV.
func ReadCSV(r io.Reader, targetCols []int, hasHeader bool) (*Dataset, error) {
	if len(targetCols) == 0 {
		return nil, errors.New("at least one target column is required")
	}

	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if hasHeader && len(records) > 0 {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, errors.New("csv file has no data rows")
	}

	numCols := len(records[0])
	isTarget := make(map[int]bool, len(targetCols))
	for _, c := range targetCols {
		if c < 0 || c >= numCols {
			return nil, fmt.Errorf("target column %d outside 0..%d", c, numCols-1)
		}
		isTarget[c] = true
	}
	numFeatures := numCols - len(isTarget)
	if numFeatures <= 0 {
		return nil, errors.New("csv file has no feature columns")
	}

	xs := make([]float64, 0, len(records)*numFeatures)
	ys := make([]float64, 0, len(records)*len(targetCols))
	for i, record := range records {
		if len(record) != numCols {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", i, numCols, len(record))
		}
		values := make([]float64, numCols)
		for j, s := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d, col %d: %w", i, j, err)
			}
			values[j] = v
			if !isTarget[j] {
				xs = append(xs, v)
			}
		}
		for _, c := range targetCols {
			ys = append(ys, values[c])
		}
	}

	return &Dataset{
		X: mat.NewDense(len(records), numFeatures, xs),
		Y: mat.NewDense(len(records), len(targetCols), ys),
	}, nil
}
