package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistrationState(t *testing.T) {
	assert.Equal(t, RegistrationPending, (&Registration{}).State())
	assert.Equal(t, RegistrationApproved, (&Registration{IsApproved: true}).State())
	assert.Equal(t, RegistrationRejected, (&Registration{IsRejected: true}).State())
}
