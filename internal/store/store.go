// Package store implements the Document Store: whole-file JSON
// persistence under a data-directory root. Every write goes to a temp
// file next to its destination, is fsync'd, then renamed into place,
// so a reader never observes a partially-written document and a crash
// mid-write leaves the previous version intact.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/pi5-trading-engine/internal/algorithm"
	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

const dateLayout = "2006-01-02"

// InstanceConfig is the definitions-only (no Series/Position/totals)
// record persisted in instances.json (spec §6).
type InstanceConfig struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Symbol          string  `json:"symbol"`
	ContractID      string  `json:"contractId"`
	AccountID       string  `json:"accountId"`
	AlgorithmName   string  `json:"algorithmName"`
	SimulationMode  bool    `json:"simulationMode"`
	StartingCapital float64 `json:"startingCapital"`
	Commission      float64 `json:"commission"`
}

// InstanceSetDocument is the whole contents of instances.json.
type InstanceSetDocument struct {
	Instances []InstanceConfig `json:"instances"`
	LastSaved time.Time        `json:"lastSaved"`
}

// BacktestDefinition is the document persisted at backtests/<id>.json.
type BacktestDefinition struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Symbol           string    `json:"symbol"`
	AlgorithmName    string    `json:"algorithmName"`
	StartDate        time.Time `json:"startDate"`
	EndDate          time.Time `json:"endDate"`
	LagTicks         int       `json:"lagTicks"`
	CreatedAt        time.Time `json:"createdAt"`
	LastModifiedAt   time.Time `json:"lastModifiedAt"`
}

// BacktestResultSnapshot is one entry appended to backtest-results.json
// on run completion.
type BacktestResultSnapshot struct {
	BacktestID string             `json:"backtestId"`
	DefinitionID string           `json:"definitionId"`
	Status     string             `json:"status"`
	Trades     []types.ClosedTrade `json:"trades"`
	Results    any                `json:"results"`
	CompletedAt time.Time         `json:"completedAt"`
}

// ConnectionDocument is the broker credentials/autoconnect record at
// connection.json.
type ConnectionDocument struct {
	BaseURL    string `json:"baseUrl"`
	APIKey     string `json:"apiKey"`
	Autoconnect bool  `json:"autoconnect"`
}

// Store is the root of the file-backed document tree.
type Store struct {
	root   string
	logger zerolog.Logger
}

// New constructs a Store rooted at dir, creating the directory tree
// spec §6 names (algorithms/, backtests/, historical/) if absent.
func New(dir string, logger zerolog.Logger) (*Store, error) {
	s := &Store{root: dir, logger: logger.With().Str("component", "document_store").Logger()}
	for _, sub := range []string{"algorithms", "backtests", "historical"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, apperr.Internalf("document store: create %s: %v", sub, err)
		}
	}
	return s, nil
}

// --- Algorithms ---

func (s *Store) algorithmPath(name string) string {
	return filepath.Join(s.root, "algorithms", name+".json")
}

// SaveAlgorithm writes the algorithm document, keyed by its name.
func (s *Store) SaveAlgorithm(alg algorithm.Algorithm) error {
	return s.writeJSON(s.algorithmPath(alg.Name), alg)
}

// LoadAlgorithm reads one algorithm document by name.
func (s *Store) LoadAlgorithm(name string) (algorithm.Algorithm, error) {
	var alg algorithm.Algorithm
	ok, err := s.readJSON(s.algorithmPath(name), &alg)
	if err != nil {
		return algorithm.Algorithm{}, err
	}
	if !ok {
		return algorithm.Algorithm{}, apperr.NotFoundf("algorithm %q not found", name)
	}
	return alg, nil
}

// ListAlgorithms returns every persisted algorithm, sorted by name.
func (s *Store) ListAlgorithms() ([]algorithm.Algorithm, error) {
	dir := filepath.Join(s.root, "algorithms")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Internalf("document store: list algorithms: %v", err)
	}

	var out []algorithm.Algorithm
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		alg, err := s.LoadAlgorithm(name)
		if err != nil {
			continue
		}
		out = append(out, alg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteAlgorithm removes the algorithm document by name.
func (s *Store) DeleteAlgorithm(name string) error {
	return s.remove(s.algorithmPath(name), "algorithm", name)
}

// --- Instances ---

func (s *Store) instancesPath() string {
	return filepath.Join(s.root, "instances.json")
}

// SaveInstances overwrites the whole instance set definitions document.
func (s *Store) SaveInstances(instances []InstanceConfig) error {
	doc := InstanceSetDocument{Instances: instances, LastSaved: time.Now().UTC()}
	return s.writeJSON(s.instancesPath(), doc)
}

// LoadInstances reads the instance set definitions document, returning
// an empty document (not an error) when the file does not yet exist.
func (s *Store) LoadInstances() (InstanceSetDocument, error) {
	var doc InstanceSetDocument
	if _, err := s.readJSON(s.instancesPath(), &doc); err != nil {
		return InstanceSetDocument{}, err
	}
	return doc, nil
}

// --- Backtest definitions ---

func (s *Store) backtestDefPath(id string) string {
	return filepath.Join(s.root, "backtests", id+".json")
}

// SaveBacktestDefinition writes the BacktestDefinition document.
func (s *Store) SaveBacktestDefinition(def BacktestDefinition) error {
	return s.writeJSON(s.backtestDefPath(def.ID), def)
}

// LoadBacktestDefinition reads one BacktestDefinition by id.
func (s *Store) LoadBacktestDefinition(id string) (BacktestDefinition, error) {
	var def BacktestDefinition
	ok, err := s.readJSON(s.backtestDefPath(id), &def)
	if err != nil {
		return BacktestDefinition{}, err
	}
	if !ok {
		return BacktestDefinition{}, apperr.NotFoundf("backtest definition %q not found", id)
	}
	return def, nil
}

// ListBacktestDefinitions returns every persisted backtest definition.
func (s *Store) ListBacktestDefinitions() ([]BacktestDefinition, error) {
	dir := filepath.Join(s.root, "backtests")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Internalf("document store: list backtest definitions: %v", err)
	}

	var out []BacktestDefinition
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		def, err := s.LoadBacktestDefinition(id)
		if err != nil {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteBacktestDefinition removes the BacktestDefinition document.
func (s *Store) DeleteBacktestDefinition(id string) error {
	return s.remove(s.backtestDefPath(id), "backtest definition", id)
}

// --- Backtest results ---

func (s *Store) backtestResultsPath() string {
	return filepath.Join(s.root, "backtest-results.json")
}

// AppendBacktestResult reads, appends to, and atomically rewrites the
// backtest-results.json array. Callers own serialization of concurrent
// appends (the Instance Manager/Backtest Executor call this from a
// single goroutine per run).
func (s *Store) AppendBacktestResult(snapshot BacktestResultSnapshot) error {
	results, err := s.ListBacktestResults()
	if err != nil {
		return err
	}
	results = append(results, snapshot)
	return s.writeJSON(s.backtestResultsPath(), results)
}

// ListBacktestResults returns every persisted result snapshot, oldest
// first, or an empty slice if the file does not yet exist.
func (s *Store) ListBacktestResults() ([]BacktestResultSnapshot, error) {
	var results []BacktestResultSnapshot
	if _, err := s.readJSON(s.backtestResultsPath(), &results); err != nil {
		return nil, err
	}
	return results, nil
}

// DeleteBacktestResult removes one completed run from
// backtest-results.json by its BacktestID, rewriting the array without
// it (spec §6 "DELETE /backtests/runs/:runId").
func (s *Store) DeleteBacktestResult(runID string) error {
	results, err := s.ListBacktestResults()
	if err != nil {
		return err
	}
	kept := results[:0]
	found := false
	for _, res := range results {
		if res.BacktestID == runID {
			found = true
			continue
		}
		kept = append(kept, res)
	}
	if !found {
		return apperr.NotFoundf("backtest run %s not found", runID)
	}
	return s.writeJSON(s.backtestResultsPath(), kept)
}

// --- Historical bars ---

func (s *Store) historicalPath(symbol string, date time.Time) string {
	return filepath.Join(s.root, "historical", symbol+"-"+date.UTC().Format(dateLayout)+".json")
}

// SaveHistoricalBars writes one UTC day's bars for symbol.
func (s *Store) SaveHistoricalBars(symbol string, date time.Time, bars []types.Bar) error {
	return s.writeJSON(s.historicalPath(symbol, date), bars)
}

// LoadHistoricalBars reads one UTC day's bars, returning an empty slice
// (not an error) when no file exists for that day.
func (s *Store) LoadHistoricalBars(symbol string, date time.Time) ([]types.Bar, error) {
	var bars []types.Bar
	if _, err := s.readJSON(s.historicalPath(symbol, date), &bars); err != nil {
		return nil, err
	}
	return bars, nil
}

// DeleteHistoricalBars removes one UTC day's bar file.
func (s *Store) DeleteHistoricalBars(symbol string, date time.Time) error {
	return s.remove(s.historicalPath(symbol, date), "historical bars", symbol)
}

// --- Connection ---

func (s *Store) connectionPath() string {
	return filepath.Join(s.root, "connection.json")
}

// SaveConnection writes the broker connection document.
func (s *Store) SaveConnection(doc ConnectionDocument) error {
	return s.writeJSON(s.connectionPath(), doc)
}

// LoadConnection reads the broker connection document, returning the
// zero value (not an error) when it does not yet exist.
func (s *Store) LoadConnection() (ConnectionDocument, error) {
	var doc ConnectionDocument
	if _, err := s.readJSON(s.connectionPath(), &doc); err != nil {
		return ConnectionDocument{}, err
	}
	return doc, nil
}

// --- primitives ---

// writeJSON marshals v and atomically replaces path: write to a temp
// file in the same directory, fsync, then rename over the destination.
// The same-directory temp file guarantees the final rename is on the
// same filesystem and therefore atomic.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperr.Internalf("document store: marshal %s: %v", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return apperr.Internalf("document store: create temp file in %s: %v", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperr.Internalf("document store: write %s: %v", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperr.Internalf("document store: fsync %s: %v", path, err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Internalf("document store: close %s: %v", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return apperr.Internalf("document store: rename into %s: %v", path, err)
	}
	return nil
}

// readJSON unmarshals path into v, reporting ok=false (no error) when
// path does not exist so callers can treat a missing document as an
// empty collection per spec §6 ("Reads tolerate a missing file").
func (s *Store) readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, apperr.Internalf("document store: read %s: %v", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, apperr.Internalf("document store: unmarshal %s: %v", path, err)
	}
	return true, nil
}

func (s *Store) remove(path, kind, key string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return apperr.NotFoundf("%s %q not found", kind, key)
		}
		return apperr.Internalf("document store: delete %s %q: %v", kind, key, err)
	}
	return nil
}
