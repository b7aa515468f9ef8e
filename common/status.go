package common

//go:generate go run github.com/dmarkham/enumer -json -type Status -trimprefix Status

// Status of a work unit in a run report
type Status int

const (
	StatusNEW Status = iota
	StatusRUNNING
	StatusDONE
	StatusFAILED
)
