package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const monkSample = ` 1 1 1 1 1 3 1 data_5
 0 3 2 2 3 4 2 data_216

 1 2 3 1 2 1 1 data_98
`

func TestReadMonk(t *testing.T) {
	d, err := ReadMonk(strings.NewReader(monkSample))
	if err != nil {
		t.Fatalf("ReadMonk failed: %v", err)
	}

	if d.Len() != 3 {
		t.Fatalf("Expected 3 samples, got %d", d.Len())
	}
	if d.Features() != MonkFeatures {
		t.Errorf("Expected %d features, got %d", MonkFeatures, d.Features())
	}
	if d.Targets() != 1 {
		t.Errorf("Expected 1 target, got %d", d.Targets())
	}

	// First row: a1=1 a2=1 a3=1 a4=1 a5=3 a6=1
	want := []float64{1, 0, 0, 1, 0, 0, 1, 0, 1, 0, 0, 0, 0, 1, 0, 1, 0}
	for j, v := range want {
		if got := d.X.At(0, j); got != v {
			t.Errorf("X[0][%d] = %v, want %v", j, got, v)
		}
	}
	if d.Y.At(1, 0) != 0 || d.Y.At(2, 0) != 1 {
		t.Errorf("Unexpected targets: %v %v", d.Y.At(1, 0), d.Y.At(2, 0))
	}

	// Every row has exactly one active value per attribute.
	for i := 0; i < d.Len(); i++ {
		sum := 0.0
		for j := 0; j < MonkFeatures; j++ {
			sum += d.X.At(i, j)
		}
		if sum != 6 {
			t.Errorf("Row %d has %v active features, want 6", i, sum)
		}
	}
}

func TestReadMonkInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":        "\n\n",
		"short line":   "1 1 1\n",
		"bad class":    "2 1 1 1 1 1 1 x\n",
		"out of range": "1 4 1 1 1 1 1 x\n",
		"not a number": "1 a 1 1 1 1 1 x\n",
	}
	for name, input := range cases {
		if _, err := ReadMonk(strings.NewReader(input)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	content := "a,b,t1,c,t2\n1,2,10,3,20\n4,5,40,6,50\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write csv: %v", err)
	}

	d, err := LoadCSV(path, []int{4, 2}, true)
	if err != nil {
		t.Fatalf("LoadCSV failed: %v", err)
	}

	if d.Len() != 2 || d.Features() != 3 || d.Targets() != 2 {
		t.Fatalf("Unexpected dims: len=%d features=%d targets=%d", d.Len(), d.Features(), d.Targets())
	}
	if d.X.At(1, 2) != 6 {
		t.Errorf("X[1][2] = %v, want 6", d.X.At(1, 2))
	}
	// Targets keep the requested order.
	if d.Y.At(0, 0) != 20 || d.Y.At(0, 1) != 10 {
		t.Errorf("Y[0] = [%v %v], want [20 10]", d.Y.At(0, 0), d.Y.At(0, 1))
	}
}

func TestReadCSVErrors(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("1,2\n"), nil, false); err == nil {
		t.Error("Expected error without target columns")
	}
	if _, err := ReadCSV(strings.NewReader("1,2\n"), []int{5}, false); err == nil {
		t.Error("Expected error for out-of-range target column")
	}
	if _, err := ReadCSV(strings.NewReader("1,x\n"), []int{0}, false); err == nil {
		t.Error("Expected parse error")
	}
	if _, err := ReadCSV(strings.NewReader("h1,h2\n"), []int{0}, true); err == nil {
		t.Error("Expected error for header-only file")
	}
}

func TestBatches(t *testing.T) {
	d, err := ReadMonk(strings.NewReader(monkSample))
	if err != nil {
		t.Fatalf("ReadMonk failed: %v", err)
	}

	full := d.Batches(0)
	if len(full) != 1 || full[0].Len() != 3 {
		t.Errorf("Full batch: got %d batches", len(full))
	}

	batches := d.Batches(2)
	if len(batches) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(batches))
	}
	if batches[0].Len() != 2 || batches[1].Len() != 1 {
		t.Errorf("Unexpected batch sizes %d, %d", batches[0].Len(), batches[1].Len())
	}
	if batches[1].Y.At(0, 0) != d.Y.At(2, 0) {
		t.Error("Second batch should start at row 2")
	}
}
