package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geotig/internal/errors"
	"geotig/shared/types"
)

type checked struct {
	Name string `json:"name"`
}

func (c *checked) Validate() error {
	if c.Name == "" {
		return errors.ValidationError("name is required", nil)
	}
	return nil
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"name":"roads"}`},
		{name: "fails validation", body: `{"name":""}`, wantErr: true},
		{name: "empty body still validated", body: "", wantErr: true},
		{name: "malformed", body: `{"name":`, wantErr: true},
		{name: "unknown field", body: `{"name":"a","extra":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			var c checked
			err := DecodeJSON(req, &c)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrorTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "roads", c.Name)
		})
	}
}

func TestDecodeJSON_EmptyBodyWithoutValidator(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(""))
	var sr shared.StageRequest
	require.NoError(t, DecodeJSON(req, &sr))
	assert.Empty(t, sr.Prefix)
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath(nil))
	assert.NoError(t, ValidatePath([]string{"roads", "main"}))
	assert.True(t, errors.Is(ValidatePath([]string{"roads", ""}), errors.ErrorTypeValidation))
	assert.True(t, errors.Is(ValidatePath([]string{"a/b"}), errors.ErrorTypeValidation))
}

func TestValidateCommitRequest(t *testing.T) {
	assert.NoError(t, ValidateCommitRequest(&shared.CommitRequest{Message: "add roads"}))
	assert.Error(t, ValidateCommitRequest(&shared.CommitRequest{Message: "  "}))
}
