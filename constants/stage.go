package constants

// Stage identifies where in the pipeline a failure was raised. Stored in
// logs and metrics only, never on the job record.
type Stage string

const (
	StageInit      Stage = "INIT"
	StageFetch     Stage = "FETCH"
	StageOCR       Stage = "OCR"
	StageNormalize Stage = "NORMALIZE"
	StageTransform Stage = "TRANSFORM"
	StagePersist   Stage = "PERSIST"
	StageSubmit    Stage = "SUBMIT"
)

func (s Stage) String() string {
	return string(s)
}
