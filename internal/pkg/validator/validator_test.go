package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Kind string `json:"kind" validate:"required,oneof=personal local"`
	ID   int64  `json:"id" validate:"gt=0"`
}

func TestValidate(t *testing.T) {
	assert.Nil(t, Validate(sample{Kind: "local", ID: 3}))

	errs := Validate(sample{Kind: "boat"})
	assert.Equal(t, map[string]string{"kind": "oneof", "id": "gt"}, errs)
}
