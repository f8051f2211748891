package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeQueuePayload(t *testing.T) {
	decoded, err := DecodeQueuePayload(CollectionStudents, []byte(`{"id":"s1","full_name":"Ada"}`))
	require.NoError(t, err)
	student, ok := decoded.(*Student)
	require.True(t, ok)
	assert.Equal(t, "Ada", student.FullName)

	decoded, err = DecodeQueuePayload(CollectionFees, []byte(`{"id":"f1","amount":100}`))
	require.NoError(t, err)
	fee, ok := decoded.(*Fee)
	require.True(t, ok)
	assert.Equal(t, 100.0, fee.Amount)
}

func TestDecodeQueuePayloadUnknownTable(t *testing.T) {
	_, err := DecodeQueuePayload("sessions", []byte(`{}`))
	assert.Error(t, err)
}

func TestDecodeQueuePayloadCorrupt(t *testing.T) {
	_, err := DecodeQueuePayload(CollectionStudents, []byte(`"just a string"`))
	assert.Error(t, err)
}
