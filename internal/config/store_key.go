package config

import (
	"fmt"
)

type StoreKeyStruct struct{}

func NewStoreKeyStruct() *StoreKeyStruct {
	return &StoreKeyStruct{}
}

// SessionSnapshotKey returns the store key for an assessment's autosave snapshot
func (r *StoreKeyStruct) SessionSnapshotKey(assessmentID string) string {
	return fmt.Sprintf("session:%s:snapshot", assessmentID)
}

// RecordingMetaKey returns the store key for a question's take list and selection
func (r *StoreKeyStruct) RecordingMetaKey(questionID string) string {
	return fmt.Sprintf("recording:%s:meta", questionID)
}

// RecordingPayloadKey returns the store key for one take's audio payload
func (r *StoreKeyStruct) RecordingPayloadKey(questionID, takeID string) string {
	return fmt.Sprintf("recording:%s:take:%s", questionID, takeID)
}

var StoreKey = NewStoreKeyStruct()
