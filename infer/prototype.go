package infer

// Prototype-Based Inference Engine
//
// An on-host alternative to the remote inference service: a k-nearest
// neighbour classifier over labelled reference spectrograms.
//
// 1. Prototype Storage:
//    - Each prototype is a labelled, flattened spectrogram tensor
//      (timeFrames x melBins, values in [0,1]) captured from reference audio
//    - Vectors are normalized to unit length on load
//
// 2. Classification:
//    - Cosine similarity between the live tensor and every prototype,
//      converted to a distance (1 - similarity)
//    - The k nearest prototypes vote with weight 1/(distance + epsilon)
//
// 3. Score Aggregation:
//    - Per-class weights are summed and divided by the total weight of the
//      k neighbours, so the returned scores form a distribution over the
//      configured class list
//
// Prototypes can be added at runtime and persisted; a file watcher reloads
// the set when the prototype file changes on disk.

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Prototype is one labelled reference tensor.
type Prototype struct {
	ID       string            `json:"id"`
	Label    string            `json:"label"`
	Source   string            `json:"source,omitempty"`
	Features []float64         `json:"features"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ModelStats summarises the loaded prototype set.
type ModelStats struct {
	PrototypeCount int            `json:"prototypeCount"`
	LabelCount     int            `json:"labelCount"`
	Labels         map[string]int `json:"labels"`
}

type distancePair struct {
	index    int
	distance float64
}

// PrototypeEngine performs k-nearest prototype lookups in tensor space.
type PrototypeEngine struct {
	mu         sync.RWMutex
	prototypes []Prototype
	k          int
	classes    []string
	classIndex map[string]int
	modelPath  string
}

// NewPrototypeEngineFromFile loads prototypes from the supplied path. When
// the primary file is missing it falls back to the matching `.example.json`
// file, mirroring first-run deployments that ship only an example set.
func NewPrototypeEngineFromFile(path string, k int, classes []string) (*PrototypeEngine, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid neighbour count: %d", k)
	}
	if len(classes) == 0 {
		return nil, errors.New("no classes configured")
	}

	classIndex := make(map[string]int, len(classes))
	for i, class := range classes {
		classIndex[class] = i
	}

	engine := &PrototypeEngine{
		k:          k,
		classes:    classes,
		classIndex: classIndex,
		modelPath:  filepath.Clean(path),
	}

	if err := engine.ReloadFromFile(); err != nil {
		return nil, err
	}

	return engine, nil
}

// NewEmptyPrototypeEngine builds an engine with no prototypes, targeted at
// path for later SaveToFile. Used by the model-building tools.
func NewEmptyPrototypeEngine(path string, k int, classes []string) (*PrototypeEngine, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid neighbour count: %d", k)
	}
	if len(classes) == 0 {
		return nil, errors.New("no classes configured")
	}

	classIndex := make(map[string]int, len(classes))
	for i, class := range classes {
		classIndex[class] = i
	}

	return &PrototypeEngine{
		k:          k,
		classes:    classes,
		classIndex: classIndex,
		modelPath:  filepath.Clean(path),
	}, nil
}

// ReloadFromFile replaces the prototype set from the model path.
func (pe *PrototypeEngine) ReloadFromFile() error {
	resolvedPath := pe.modelPath
	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		ext := filepath.Ext(resolvedPath)
		base := strings.TrimSuffix(resolvedPath, ext)
		fallbackPath := base + ".example" + ext
		data, err = os.ReadFile(fallbackPath)
		if err != nil {
			return fmt.Errorf("failed to load prototypes (%s): %w", resolvedPath, err)
		}
	}

	var prototypes []Prototype
	if err := json.Unmarshal(data, &prototypes); err != nil {
		return fmt.Errorf("unable to parse prototypes: %w", err)
	}

	for idx := range prototypes {
		proto := &prototypes[idx]
		if len(proto.Features) == 0 {
			return fmt.Errorf("prototype %s has no features", proto.ID)
		}
		if proto.Label == "" {
			return fmt.Errorf("prototype %s missing label", proto.ID)
		}
		if _, ok := pe.classIndex[proto.Label]; !ok {
			return fmt.Errorf("prototype %s has unknown label %q", proto.ID, proto.Label)
		}
		if idx > 0 && len(proto.Features) != len(prototypes[0].Features) {
			return fmt.Errorf("prototype %s has %d features, expected %d",
				proto.ID, len(proto.Features), len(prototypes[0].Features))
		}
		normalizeVectorInPlace(proto.Features)
	}

	pe.mu.Lock()
	pe.prototypes = prototypes
	pe.mu.Unlock()

	return nil
}

// Classes returns the class labels in score order.
func (pe *PrototypeEngine) Classes() []string { return pe.classes }

// ModelPath returns the resolved prototype file path.
func (pe *PrototypeEngine) ModelPath() string { return pe.modelPath }

func (pe *PrototypeEngine) snapshot() (int, []Prototype) {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	prototypes := make([]Prototype, len(pe.prototypes))
	copy(prototypes, pe.prototypes)
	return pe.k, prototypes
}

// Infer scores the tensor against the prototype set. The result is a
// distribution over Classes; an empty prototype set scores everything zero.
func (pe *PrototypeEngine) Infer(tensor []float64) ([]float64, error) {
	if len(tensor) == 0 {
		return nil, errors.New("feature tensor is empty")
	}

	k, prototypes := pe.snapshot()
	scores := make([]float64, len(pe.classes))

	if len(prototypes) == 0 {
		return scores, nil
	}
	if k > len(prototypes) {
		k = len(prototypes)
	}

	distances := make([]distancePair, len(prototypes))
	for i := range prototypes {
		// Cosine similarity in [-1,1]; convert to a distance where 0 is
		// most similar.
		similarity := cosineSimilarity(tensor, prototypes[i].Features)
		distances[i] = distancePair{index: i, distance: 1 - similarity}
	}
	sort.Slice(distances, func(i, j int) bool {
		return distances[i].distance < distances[j].distance
	})

	var totalWeight float64
	for idx := 0; idx < k; idx++ {
		neighbor := distances[idx]
		weight := 1.0 / (neighbor.distance + 1e-9)
		class := pe.classIndex[prototypes[neighbor.index].Label]
		scores[class] += weight
		totalWeight += weight
	}

	if totalWeight > 0 {
		for i := range scores {
			scores[i] /= totalWeight
		}
	}

	return scores, nil
}

// AddPrototype normalises and appends a prototype at runtime.
func (pe *PrototypeEngine) AddPrototype(proto Prototype) error {
	if len(proto.Features) == 0 {
		return errors.New("prototype has no features")
	}
	if _, ok := pe.classIndex[proto.Label]; !ok {
		return fmt.Errorf("unknown label %q", proto.Label)
	}

	features := append([]float64(nil), proto.Features...)
	normalizeVectorInPlace(features)
	proto.Features = features

	pe.mu.Lock()
	pe.prototypes = append(pe.prototypes, proto)
	pe.mu.Unlock()

	return nil
}

// SaveToFile persists the prototype set with a write-then-rename so readers
// never observe a partial file.
func (pe *PrototypeEngine) SaveToFile() error {
	if pe.modelPath == "" {
		return errors.New("model path not set")
	}

	_, prototypes := pe.snapshot()

	dir := filepath.Dir(pe.modelPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(prototypes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal prototypes: %w", err)
	}

	tempPath := pe.modelPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write prototypes: %w", err)
	}

	if err := os.Rename(tempPath, pe.modelPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Stats returns summary metadata about the loaded prototype set.
func (pe *PrototypeEngine) Stats() ModelStats {
	_, prototypes := pe.snapshot()

	labels := make(map[string]int)
	for _, proto := range prototypes {
		labels[proto.Label]++
	}

	return ModelStats{
		PrototypeCount: len(prototypes),
		LabelCount:     len(labels),
		Labels:         labels,
	}
}

// cosineSimilarity computes the cosine similarity between two vectors.
// A higher value indicates greater similarity.
func cosineSimilarity(a, b []float64) float64 {
	limit := len(a)
	if len(b) < limit {
		limit = len(b)
	}

	var dotProduct, normA, normB float64
	for i := 0; i < limit; i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func normalizeVectorInPlace(vector []float64) {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += v * v
	}
	if sumSquares == 0 {
		return
	}
	factor := 1 / math.Sqrt(sumSquares)
	for i := range vector {
		vector[i] *= factor
	}
}
