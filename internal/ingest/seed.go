package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"cutledger/pkg/domain"
)

// Seed is a decoded export of the rolls and orders collections.
type Seed struct {
	Rolls  []domain.FabricRoll
	Orders []domain.Order
}

// ReadSeed decodes a JSON export shaped as
// {"fabricRolls": {"<id>": {...}}, "orders": {"<id>": {...}}}.
func ReadSeed(r io.Reader) (Seed, error) {
	var raw struct {
		Rolls  map[string]map[string]any `json:"fabricRolls"`
		Orders map[string]map[string]any `json:"orders"`
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	var seed Seed
	for _, id := range sortedKeys(raw.Rolls) {
		roll, err := DecodeRoll(id, raw.Rolls[id])
		if err != nil {
			return Seed{}, err
		}
		seed.Rolls = append(seed.Rolls, roll)
	}
	for _, id := range sortedKeys(raw.Orders) {
		order, err := DecodeOrder(id, raw.Orders[id])
		if err != nil {
			return Seed{}, err
		}
		seed.Orders = append(seed.Orders, order)
	}
	return seed, nil
}

func sortedKeys(m map[string]map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
