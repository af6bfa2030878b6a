// Package stats serves the training history recorded next to the model.
package stats

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// History maps a metric column to its value per epoch:
// {"val_acc": {"0": 0.71, "1": 0.83}}.
type History map[string]map[string]float64

// LoadHistory reads a training history CSV. The first column is the epoch
// index; every other column is a metric. Empty cells are skipped.
func LoadHistory(path string) (History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadHistory(f)
}

func ReadHistory(r io.Reader) (History, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return History{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read history header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("history needs an index column and at least one metric")
	}

	history := make(History, len(header)-1)
	for _, col := range header[1:] {
		history[col] = map[string]float64{}
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read history: %w", err)
		}

		index := record[0]
		for i, cell := range record[1:] {
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %s: %w", line, header[i+1], err)
			}
			history[header[i+1]][index] = v
		}
	}
	return history, nil
}
