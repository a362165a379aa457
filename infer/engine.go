package infer

// Engine is the inference collaborator consumed by the detection pipeline.
// It accepts one flattened feature tensor of timeFrames x melBins values,
// each pre-normalized into [0,1], and returns per-class scores. The pipeline
// reads a single configured class index as the target confidence.
type Engine interface {
	// Infer runs one classification pass. Implementations must not retain
	// the tensor slice.
	Infer(tensor []float64) ([]float64, error)

	// Classes returns the class labels in score order.
	Classes() []string
}
