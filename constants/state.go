package constants

// DocState is the lifecycle state of one uploaded document.
type DocState string

// Stable values (surface these exact strings in API responses).
const (
	StateUploaded          DocState = "UPLOADED"           // bytes received
	StateHashed            DocState = "HASHED"             // fingerprint computed
	StateDuplicateSkipped  DocState = "DUPLICATE_SKIPPED"  // terminal: same bytes already in the store
	StateRecognizing       DocState = "RECOGNIZING"        // extraction call in flight
	StateRecognitionFailed DocState = "RECOGNITION_FAILED" // terminal: extraction failed
	StateRecognized        DocState = "RECOGNIZED"         // structured record available
	StateEditing           DocState = "EDITING"            // user review in progress
	StateConfirmed         DocState = "CONFIRMED"          // user accepted the edited record
	StateExported          DocState = "EXPORTED"           // workbook rendered, upload pending
	StateStored            DocState = "STORED"             // terminal: artifact durably uploaded
)

// Terminal reports whether no further transition can leave the state.
func (s DocState) Terminal() bool {
	switch s {
	case StateDuplicateSkipped, StateRecognitionFailed, StateStored:
		return true
	}
	return false
}
